package refresh

import (
	"errors"
	"io"
	"os/exec"

	"github.com/rotisserie/eris"
)

// Process is a started child.
type Process interface {
	PID() int
	// Wait blocks until the child exits and returns its exit code.
	Wait() (int, error)
}

// Launcher starts child processes with output sent to out.
type Launcher interface {
	Launch(argv []string, dir string, out io.Writer) (Process, error)
}

// ExecLauncher starts real OS processes.
type ExecLauncher struct{}

func (ExecLauncher) Launch(argv []string, dir string, out io.Writer) (Process, error) {
	if len(argv) == 0 {
		return nil, eris.New("refresh: empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return nil, eris.Wrapf(err, "refresh: start %s", argv[0])
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, eris.Wrap(err, "refresh: wait")
}
