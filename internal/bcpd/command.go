package bcpd

import (
	"context"
	"os/exec"
)

// CommandExecutor runs one prepared command.
// This abstraction enables unit testing without the solver binary.
type CommandExecutor interface {
	// Run executes the command and returns the combined output (stdout+stderr).
	Run() ([]byte, error)
}

// CommandBuilder prepares commands that run in a working directory.
type CommandBuilder interface {
	BuildCommand(ctx context.Context, dir, name string, args ...string) CommandExecutor
}

// ExecCommandExecutor wraps exec.Cmd to implement CommandExecutor.
type ExecCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command and returns combined output.
func (e *ExecCommandExecutor) Run() ([]byte, error) {
	return e.cmd.CombinedOutput()
}

// ExecCommandBuilder implements CommandBuilder using exec.CommandContext.
type ExecCommandBuilder struct{}

// BuildCommand creates a CommandExecutor for name and args with dir as the
// working directory.
func (ExecCommandBuilder) BuildCommand(ctx context.Context, dir, name string, args ...string) CommandExecutor {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return &ExecCommandExecutor{cmd: cmd}
}
