package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"covtrace.dev/pkg/covtrace/internal/domain"
	m "covtrace.dev/pkg/covtrace/internal/model"
	"covtrace.dev/pkg/covtrace/pkg/runtimecov"
)

const (
	// DefaultPollInterval is how often backends look for new coverage when
	// no file notification arrives.
	DefaultPollInterval = 500 * time.Millisecond

	// killGrace is how long a target gets to honour SIGTERM.
	killGrace = 2 * time.Second
)

// BackendConfig carries what backends need beyond the executable path.
type BackendConfig struct {
	Fs afero.Fs
	// Args are passed to the target after the executable.
	Args []string
	// DataDir receives runtime snapshots from instrumented binaries.
	DataDir string
	// HelperCommand launches the source-level helper; the script and Args
	// are appended.
	HelperCommand []string
	PollInterval  time.Duration

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (c BackendConfig) withDefaults() BackendConfig {
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}

	if c.DataDir == "" {
		c.DataDir = runtimecov.DefaultDir()
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.Stdin == nil {
		c.Stdin = os.Stdin
	}

	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}

	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}

	return c
}

func (c BackendConfig) command(name string, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...) // #nosec G204 - running the user's target is the point
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.Env = os.Environ()
	cmd.WaitDelay = killGrace

	return cmd
}

// RegisterBackends adds the built-in backends to reg, best first.
func RegisterBackends(reg *domain.Registry, cfg BackendConfig) error {
	cfg = cfg.withDefaults()

	creators := []domain.BackendCreator{
		{
			Name:      BitVectorBackendName,
			MatchFile: func(path m.Path, header []byte) uint { return NewBitVectorBackend(cfg).MatchParser(path, header) },
			Create:    func() domain.Backend { return NewBitVectorBackend(cfg) },
		},
		{
			Name:      HelperBackendName,
			MatchFile: func(path m.Path, header []byte) uint { return NewHelperBackend(cfg).MatchParser(path, header) },
			Create:    func() domain.Backend { return NewHelperBackend(cfg) },
		},
	}

	for _, c := range creators {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}

// tracedProcess runs a child and hands the events its monitor goroutine
// produces to the driver one at a time.
type tracedProcess struct {
	cmd      *exec.Cmd
	listener domain.EventListener
	events   chan m.Event
	exited   chan error
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// startProcess starts cmd and runs monitor until it returns.
func startProcess(cmd *exec.Cmd, listener domain.EventListener, monitor func(p *tracedProcess)) (*tracedProcess, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &tracedProcess{
		cmd:      cmd,
		listener: listener,
		events:   make(chan m.Event, 64),
		exited:   make(chan error, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go func() { p.exited <- cmd.Wait() }()

	go func() {
		defer close(p.done)
		defer close(p.events)

		monitor(p)
	}()

	return p, nil
}

// push queues ev for the driver. It returns false once the driver gave up.
func (p *tracedProcess) push(ev m.Event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.stop:
		return false
	}
}

// next delivers one event. Cancellation terminates the target and reports
// an error event.
func (p *tracedProcess) next(ctx context.Context) bool {
	select {
	case ev, ok := <-p.events:
		if !ok {
			return false
		}

		p.listener.OnEvent(ev)

		return !ev.Type.Terminal()
	case <-ctx.Done():
		p.kill(syscall.SIGTERM)
		p.shutdown()
		p.listener.OnEvent(m.Event{Type: m.EventError, Data: -1})

		return false
	}
}

// shutdown stops the monitor. A target that outlives the grace period is
// killed whatever the monitor is blocked on.
func (p *tracedProcess) shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })

	select {
	case <-p.done:
	case <-time.After(killGrace):
		p.kill(syscall.SIGKILL)
		<-p.done
	}
}

// closeOnStop closes c when the driver stops, unblocking a monitor that reads
// from it. Nothing happens if the monitor finishes first.
func (p *tracedProcess) closeOnStop(c io.Closer) {
	go func() {
		select {
		case <-p.stop:
			_ = c.Close()
		case <-p.done:
		}
	}()
}

func (p *tracedProcess) kill(sig syscall.Signal) {
	if p == nil || p.cmd.Process == nil {
		return
	}

	if err := unix.Kill(p.cmd.Process.Pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		slog.Warn("Failed to signal target", "pid", p.cmd.Process.Pid, "signal", sig, "error", err)
	}
}

// awaitExit waits for the child and returns its Wait error. When the driver
// stops first the child is reaped and exited is false.
func (p *tracedProcess) awaitExit() (bool, error) {
	select {
	case err := <-p.exited:
		return true, err
	case <-p.stop:
		p.reap()
		return false, nil
	}
}

func (p *tracedProcess) reap() {
	select {
	case <-p.exited:
	case <-time.After(killGrace):
		p.kill(syscall.SIGKILL)
		<-p.exited
	}
}

// pushExit reports how the child ended.
func (p *tracedProcess) pushExit(err error) {
	for _, ev := range exitEvents(err) {
		if !p.push(ev) {
			return
		}
	}
}

// exitEvents translates a Wait result. A fatal signal is reported as a
// signal event followed by the shell-style exit status.
func exitEvents(err error) []m.Event {
	if err == nil {
		return []m.Event{{Type: m.EventExit}}
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		slog.Warn("Lost target", "error", err)
		return []m.Event{{Type: m.EventError, Data: -1}}
	}

	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		sig := int(status.Signal())

		return []m.Event{
			{Type: m.EventSignal, Data: sig},
			{Type: m.EventExit, Data: 128 + sig},
		}
	}

	return []m.Event{{Type: m.EventExit, Data: exitErr.ExitCode()}}
}
