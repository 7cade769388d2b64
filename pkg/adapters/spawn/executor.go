// Package spawn implements the process-spawn adapter variant: each request
// launches the configured command, writes the normalized request as JSON on
// the child's stdin, and parses the child's stdout as the normalized
// response. A wall-clock timeout forcibly terminates the process.
package spawn

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// Executor is the narrow port that runs one child process to completion.
// Two implementations exist: directExecutor runs the command on the host,
// sandboxExecutor runs it inside an isolated, network-disabled,
// resource-capped container. The adapter's orchestration, timeout, and
// cancellation logic is identical for both.
type Executor interface {
	// Run executes the command with stdin as input and returns stdout.
	// Respecting ctx cancellation (killing the child) is the
	// implementation's responsibility; exec.CommandContext provides it.
	Run(ctx context.Context, stdin []byte) (stdout []byte, stderr []byte, err error)

	// Describe returns a loggable description of what would be executed.
	Describe() string
}

// directExecutor runs the configured command directly on the host.
type directExecutor struct {
	command string
	args    []string
	env     []string
}

func newDirectExecutor(command string, args, env []string) *directExecutor {
	return &directExecutor{command: command, args: args, env: env}
}

func (e *directExecutor) Run(ctx context.Context, stdin []byte) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, e.command, e.args...)
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}
	return runCommand(ctx, cmd, stdin)
}

func (e *directExecutor) Describe() string {
	return e.command
}

// sandboxExecutor runs the configured command inside a container: no
// network, capped memory and CPU, ephemeral filesystem.
type sandboxExecutor struct {
	runtime string
	image   string
	command string
	args    []string
	env     []string

	memoryLimitMB int
	cpuLimit      float64
}

func newSandboxExecutor(runtime, image, command string, args, env []string, memoryLimitMB int, cpuLimit float64) *sandboxExecutor {
	if runtime == "" {
		runtime = "docker"
	}
	return &sandboxExecutor{
		runtime:       runtime,
		image:         image,
		command:       command,
		args:          args,
		env:           env,
		memoryLimitMB: memoryLimitMB,
		cpuLimit:      cpuLimit,
	}
}

func (e *sandboxExecutor) Run(ctx context.Context, stdin []byte) ([]byte, []byte, error) {
	runArgs := []string{"run", "--rm", "-i", "--network=none"}
	if e.memoryLimitMB > 0 {
		runArgs = append(runArgs, fmt.Sprintf("--memory=%dm", e.memoryLimitMB))
	}
	if e.cpuLimit > 0 {
		runArgs = append(runArgs, "--cpus="+strconv.FormatFloat(e.cpuLimit, 'f', -1, 64))
	}
	for _, kv := range e.env {
		runArgs = append(runArgs, "-e", kv)
	}
	runArgs = append(runArgs, e.image, e.command)
	runArgs = append(runArgs, e.args...)

	cmd := exec.CommandContext(ctx, e.runtime, runArgs...)
	return runCommand(ctx, cmd, stdin)
}

func (e *sandboxExecutor) Describe() string {
	return fmt.Sprintf("%s run %s %s", e.runtime, e.image, e.command)
}

// runCommand runs a prepared command with the given stdin, separating
// stdout from stderr so diagnostics never pollute the response stream.
func runCommand(ctx context.Context, cmd *exec.Cmd, stdin []byte) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	// Prefer the context error: a killed child reports a generic exit
	// failure that would otherwise mask the timeout.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.Bytes(), stderr.Bytes(), ctxErr
	}

	return stdout.Bytes(), stderr.Bytes(), err
}
