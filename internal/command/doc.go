// Package command provides safe, controlled execution of external commands.
//
// All process creation in qrelay goes through this package: one-shot checks
// such as "q --version" use Builder.Run, while the long-lived agent session
// takes Builder.Cmd and is started by its caller.
//
// Basic usage:
//
//	// Short check with a tight timeout
//	output, err := command.NewCommand("q", "--version").
//	    WithContext(ctx).
//	    WithTimeout(10 * time.Second).
//	    Run()
//
//	// Streaming process: the caller wires pipes and starts it
//	cmd := command.NewCommand("q", "chat").WithContext(ctx).WithDir(dir).Cmd()
package command
