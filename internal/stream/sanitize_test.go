package stream_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/qrelay/internal/stream"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain text", in: "hello world", want: "hello world"},
		{name: "surrounding whitespace", in: "  hello \r\n", want: "hello"},
		{name: "color codes", in: "\x1b[32mgreen\x1b[0m text", want: "green text"},
		{name: "cursor movement", in: "\x1b[2K\x1b[1Gloading", want: "loading"},
		{name: "single character escape", in: "\x1bMtext", want: "text"},
		{name: "osc title", in: "\x1b]0;q chat\x07answer", want: "answer"},
		{name: "only escapes", in: "\x1b[0m\x1b[?25l", want: ""},
		{name: "unicode content", in: "\x1b[1m你好\x1b[0m", want: "你好"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stream.Sanitize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, stream.Sanitize(got), "sanitize must be idempotent")
		})
	}
}

func TestIsNoise(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{name: "empty", line: "", want: true},
		{name: "prompt echo", line: "> anything", want: true},
		{name: "bare prompt", line: ">", want: true},
		{name: "quit directive", line: "/quit", want: true},
		{name: "quit inside line", line: "typing /quit now", want: true},
		{name: "ordinary content", line: "Amazon S3 is object storage.", want: false},
		{name: "markdown quote inside text", line: "use a > b", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stream.IsNoise(tt.line))
		})
	}
}

func TestClean(t *testing.T) {
	raw := slices.Values([]string{
		"\x1b[32m> \x1b[0m",
		"",
		"\x1b[1mhello\x1b[0m",
		"   ",
		"> /quit",
		"world  ",
	})

	assert.Equal(t, []string{"hello", "world"}, slices.Collect(stream.Clean(raw)))
}

func TestClean_StopsEarly(t *testing.T) {
	pulled := 0
	raw := func(yield func(string) bool) {
		for _, line := range []string{"a", "b", "c"} {
			pulled++
			if !yield(line) {
				return
			}
		}
	}

	for line := range stream.Clean(raw) {
		if line == "a" {
			break
		}
	}
	assert.Equal(t, 1, pulled)
}
