package encoder

import (
	"context"
	"os/exec"
	"sync"
	"time"
)

// trackedProcess pairs a live command with a channel the owning goroutine
// closes once cmd.Wait has returned. Terminate watches the channel instead
// of the command so it never touches fields Wait writes.
type trackedProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Registry tracks live encoder children so cancellation and daemon shutdown
// can terminate them within a bounded grace period. It is owned by the
// daemon lifecycle and passed by reference into the adapter.
type Registry struct {
	grace time.Duration

	mu    sync.Mutex
	procs map[int]*trackedProcess
}

// NewRegistry constructs a registry with the given TERM-to-KILL grace period.
func NewRegistry(grace time.Duration) *Registry {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Registry{
		grace: grace,
		procs: make(map[int]*trackedProcess),
	}
}

// Add records a started command. The command must have been configured with
// setProcessGroup before starting, and the caller must call Remove once its
// cmd.Wait has returned.
func (r *Registry) Add(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[cmd.Process.Pid] = &trackedProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
}

// Remove drops a reaped command and signals any pending Terminate.
func (r *Registry) Remove(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.procs[cmd.Process.Pid]; ok {
		close(p.done)
		delete(r.procs, cmd.Process.Pid)
	}
}

// Active returns the number of tracked children.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// terminate stops one child: TERM to its process group, a grace period, then
// KILL. It does not reap; the goroutine owning cmd.Wait observes the exit and
// closes done via Remove.
func (r *Registry) terminate(p *trackedProcess) {
	if err := signalGroup(p.cmd, false); err != nil {
		return
	}
	select {
	case <-p.done:
	case <-time.After(r.grace):
		_ = signalGroup(p.cmd, true)
	}
}

// Shutdown terminates every tracked child, returning once all are signalled
// or the context expires.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	procs := make([]*trackedProcess, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *trackedProcess) {
			defer wg.Done()
			r.terminate(p)
		}(p)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
