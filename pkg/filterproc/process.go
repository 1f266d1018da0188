package filterproc

import (
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/filterstack/engine/pkg/filter"
)

// Process is a single spawned filter child process together with its wire
// connection. A Process is owned by exactly one FilterRunner in one worker
// for its entire lifetime: spawned lazily on first evaluation, killed on
// teardown or on initialization failure.
type Process struct {
	cmd  *exec.Cmd
	conn *Conn

	mu     sync.Mutex
	killed bool
}

// Spawn launches the filter binary at path in filter mode, with no
// inherited extra file descriptors and a working directory taken from
// $TMPDIR when set, then performs the initial handshake: protocol version
// 1, filter name, the argument array, and the blob (always sent as a value
// frame, even when empty).
func Spawn(path, name string, arguments []string, blob string) (*Process, error) {
	cmd := exec.Command(path, "--filter")
	if dir := os.Getenv("TMPDIR"); dir != "" {
		cmd.Dir = dir
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, filter.NewExecutionError("unable to launch filter %s: %v", name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, filter.NewExecutionError("unable to launch filter %s: %v", name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, filter.NewExecutionError("unable to launch filter %s: %v", name, err)
	}

	p := &Process{
		cmd:  cmd,
		conn: NewConn(stdin, stdout),
	}

	args := append([]string(nil), arguments...)
	if err := p.conn.Send(1, name, args, blob); err != nil {
		p.Kill()
		return nil, filter.NewExecutionError("unable to launch filter %s: %v", name, err)
	}
	return p, nil
}

// Conn returns the process's wire-protocol connection.
func (p *Process) Conn() *Conn { return p.conn }

// Kill terminates the child process with SIGKILL and reaps it. Safe to call
// more than once and safe to call on an already-exited process.
func (p *Process) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return
	}
	p.killed = true

	if p.cmd.Process == nil {
		return
	}
	p.cmd.Process.Signal(syscall.SIGKILL)
	p.cmd.Wait()
}
