// Package gate runs quality gates: external subprocesses (lint, format,
// test, coverage, security_audit) that the core treats as opaque
// callables returning pass/fail plus affected files. Grounded on the same
// subprocess-invocation idiom as internal/agentproc.
package gate

import (
	"bytes"
	"context"
	"os/exec"

	"ralph/internal/model"
)

// Runner executes one named gate.
type Runner interface {
	Run(ctx context.Context, name string, workDir string) (model.GateOutcome, error)
}

// CommandRunner runs a gate as the argv that Commands maps its name to, in
// workDir, treating a zero exit code as pass. Output lines are not parsed for affected files
// by default; callers needing richer gate output can wrap CommandRunner.
type CommandRunner struct {
	// Commands maps a gate name to the argv that runs it.
	Commands map[string][]string
}

// Run executes the named gate's command.
func (r CommandRunner) Run(ctx context.Context, name string, workDir string) (model.GateOutcome, error) {
	argv, ok := r.Commands[name]
	if !ok || len(argv) == 0 {
		return model.GateOutcome{Name: name, Passed: false, Message: "no command configured for gate"}, nil
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	passed := err == nil

	return model.GateOutcome{
		Name:    name,
		Passed:  passed,
		Message: out.String(),
	}, nil
}
