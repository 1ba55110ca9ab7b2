// Package process supplies the spawned-server abstraction consumed by the
// bridge transport: a Handle exposing the child's stdio streams, plus the
// OutputLog side-channel used by hosts that deliver output out-of-band.
package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Handle is an already-spawned child process as the transport sees it.
// Output and Stderr may return nil when the host delivers those streams
// through an OutputLog instead. The transport never spawns or reaps the
// child; it only owns the streams for the session's lifetime.
type Handle interface {
	// Name identifies the session for diagnostics and OutputLog lookups.
	Name() string
	// Input is the child's stdin sink. The transport writes one
	// newline-terminated JSON-RPC message per call.
	Input() io.Writer
	// Output is the child's stdout source, or nil.
	Output() io.Reader
	// Stderr is the child's stderr source, or nil. Diagnostic only.
	Stderr() io.Reader
	// Kill forcibly terminates the child.
	Kill() error
	// Wait blocks until the child exits.
	Wait() error
}

// Command is a Handle backed by an os/exec child process.
type Command struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

var _ Handle = (*Command)(nil)

// StartCommand spawns command with args and the given extra environment
// merged over the parent's, returning a Handle over its stdio pipes.
func StartCommand(name, command string, args []string, env map[string]string) (*Command, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = BuildEnv(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}

	return &Command{
		name:   name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (c *Command) Name() string      { return c.name }
func (c *Command) Input() io.Writer  { return c.stdin }
func (c *Command) Output() io.Reader { return c.stdout }
func (c *Command) Stderr() io.Reader { return c.stderr }

func (c *Command) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *Command) Wait() error { return c.cmd.Wait() }

// BuildEnv merges extra per-server variables over the parent environment.
func BuildEnv(env map[string]string) []string {
	full := os.Environ()
	for k, v := range env {
		full = append(full, fmt.Sprintf("%s=%s", k, v))
	}

	return full
}
