package command_test

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/qrelay/internal/command"
)

// A startup check confirms the executable runs before any request needs it.
func ExampleBuilder_Run() {
	output, err := command.NewCommand("echo", "q 1.9.0").
		WithContext(context.Background()).
		WithTimeout(2 * time.Second).
		Run()
	if err != nil {
		fmt.Printf("version check failed: %v\n", err)
		return
	}
	fmt.Println(strings.TrimSpace(output))
	// Output:
	// q 1.9.0
}

func ExampleBuilder_WithDir() {
	output, err := command.NewCommand("sh", "-c", "pwd").
		WithDir("/").
		WithTimeout(5 * time.Second).
		Run()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Print(output)
	// Output:
	// /
}

// Long-lived sessions take the unstarted command and wire their own pipes.
func ExampleBuilder_Cmd() {
	cmd := command.NewCommand("sh", "-c", "printf 'one\\ntwo\\n'").
		WithContext(context.Background()).
		Cmd()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := cmd.Start(); err != nil {
		fmt.Println(err)
		return
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		fmt.Println("line:", scanner.Text())
	}
	if err := cmd.Wait(); err != nil {
		fmt.Println(err)
	}
	// Output:
	// line: one
	// line: two
}
