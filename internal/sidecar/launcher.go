package sidecar

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/charmbracelet/log"
)

// LaunchSpec describes one worker instance. The worker receives the
// database connection string and the port as its final two arguments.
type LaunchSpec struct {
	Language string
	Command  string
	Args     []string
	Database string
	Port     int
}

// Argv returns the arguments passed to the worker binary.
func (s LaunchSpec) Argv() []string {
	argv := append([]string{}, s.Args...)
	return append(argv, s.Database, strconv.Itoa(s.Port))
}

// Process is a running worker.
type Process interface {
	// Wait blocks until the process exits.
	Wait() error
	Kill() error
	Pid() int
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher runs workers as child processes. Worker output is forwarded
// to Logger at debug level.
type ExecLauncher struct {
	Dir    string
	Logger *log.Logger
}

func (l ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Process, error) {
	path, err := exec.LookPath(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("sidecar: worker %q for %s not found: %w", spec.Command, spec.Language, err)
	}

	// Not CommandContext: the worker outlives the startup context.
	cmd := exec.Command(path, spec.Argv()...)
	cmd.Dir = l.Dir
	if l.Logger != nil {
		w := l.Logger.With("worker", spec.Language, "port", spec.Port).
			StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}).Writer()
		cmd.Stdout = w
		cmd.Stderr = w
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sidecar: start %s worker: %w", spec.Language, err)
	}
	return execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p execProcess) Wait() error { return p.cmd.Wait() }
func (p execProcess) Kill() error { return p.cmd.Process.Kill() }
func (p execProcess) Pid() int    { return p.cmd.Process.Pid }
