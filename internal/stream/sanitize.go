// Package stream turns raw agent output into clean lines and batches them
// for delivery.
package stream

import (
	"iter"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// QuitCommand is the directive that ends a q chat session. The CLI echoes
// it back, so lines carrying it are never part of a reply.
const QuitCommand = "/quit"

// PromptMarker starts every interactive prompt line printed by the CLI.
const PromptMarker = ">"

var escapeSequence = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// Sanitize removes terminal escape sequences and surrounding whitespace.
// Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(line string) string {
	// Strip first: the pattern below would cut an OSC introducer and leave
	// its payload behind.
	line = ansi.Strip(line)
	line = escapeSequence.ReplaceAllString(line, "")
	return strings.TrimSpace(line)
}

// IsNoise reports whether a sanitized line is not part of the agent's
// answer: blank lines, prompt echoes and the quit directive.
func IsNoise(line string) bool {
	return line == "" ||
		strings.HasPrefix(line, PromptMarker) ||
		strings.Contains(line, QuitCommand)
}

// Clean sanitizes every line of raw and drops the noise. The returned
// sequence is as lazy as raw.
func Clean(raw iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		for line := range raw {
			cleaned := Sanitize(line)
			if IsNoise(cleaned) {
				continue
			}
			if !yield(cleaned) {
				return
			}
		}
	}
}
