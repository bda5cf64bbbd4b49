package compiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/conneroisu/coffeefilter/internal/validation"
)

// DefaultAllowedCommands lists the executables a CommandCompiler may run.
var DefaultAllowedCommands = map[string]bool{
	"coffee": true,
	"node":   true,
	"npx":    true,
}

// CommandCompiler pipes the source through an external compiler process,
// e.g. "coffee --stdio --print".
type CommandCompiler struct {
	command string
	args    []string
	allowed map[string]bool
}

// CommandOption configures a CommandCompiler.
type CommandOption func(*CommandCompiler)

// WithAllowedCommands replaces the command allowlist.
func WithAllowedCommands(commands ...string) CommandOption {
	return func(c *CommandCompiler) {
		c.allowed = make(map[string]bool, len(commands))
		for _, cmd := range commands {
			c.allowed[cmd] = true
		}
	}
}

// WithBare appends the flag that suppresses the top-level function wrapper.
func WithBare(bare bool) CommandOption {
	return func(c *CommandCompiler) {
		if bare {
			c.args = append(c.args, "--bare")
		}
	}
}

// NewCommandCompiler creates a compiler that runs command with args. The
// command and arguments are validated up front.
func NewCommandCompiler(command string, args []string, opts ...CommandOption) (*CommandCompiler, error) {
	c := &CommandCompiler{
		command: command,
		args:    append([]string(nil), args...),
		allowed: DefaultAllowedCommands,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.validateCommand(); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}
	return c, nil
}

// Compile runs the command with source on stdin and returns its stdout.
func (c *CommandCompiler) Compile(ctx context.Context, source string) (string, error) {
	cmd := exec.CommandContext(ctx, c.command, c.args...)
	cmd.Stdin = strings.NewReader(source)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s timed out: %w", c.command, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return "", errors.New(msg)
		}
		return "", fmt.Errorf("running %s: %w", c.command, err)
	}

	return stdout.String(), nil
}

// validateCommand validates the command and arguments to prevent command injection
func (c *CommandCompiler) validateCommand() error {
	if err := validation.ValidateCommand(c.command, c.allowed); err != nil {
		return err
	}

	for _, arg := range c.args {
		if err := validation.ValidateArgument(arg); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}

	return nil
}
