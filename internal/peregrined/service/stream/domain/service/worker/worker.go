// Package worker manages the long-running agent process that executes one
// conversation's turns. The worker is an opaque event source: it speaks
// newline-delimited JSON Event records on stdout and accepts newline-delimited
// JSON commands on stdin.
package worker

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/domain/entity"
	"github.com/peregrine-desk/peregrine/internal/peregrined/service/stream/pkg/errno"
	"github.com/peregrine-desk/peregrine/pkg/logger"
	"github.com/peregrine-desk/peregrine/pkg/utils/json"
	"github.com/peregrine-desk/peregrine/pkg/utils/safego"
)

// Worker is the router's handle on one conversation's agent process.
type Worker interface {
	// Events is the ordered event stream. The channel is closed when the
	// worker exits.
	Events() <-chan *entity.Event
	// Send writes one command to the worker.
	Send(cmd *entity.WorkerCommand) error
	// Abort requests cooperative cancellation of the in-flight turn.
	Abort()
	// Stale reports whether the process has exited.
	Stale() bool
	// Stop terminates the process unconditionally.
	Stop()
}

// Config describes how to spawn the agent process.
type Config struct {
	// Command is the agent executable.
	Command string `json:"command" mapstructure:"command"`

	// Args are prepended to the per-conversation arguments.
	Args []string `json:"args" mapstructure:"args"`

	// Env is appended to the daemon's environment.
	Env []string `json:"env" mapstructure:"env"`
}

// Process is the child-process Worker implementation.
type Process struct {
	conversationID string

	cmd    *exec.Cmd
	cancel context.CancelFunc

	writeMu sync.Mutex
	stdin   io.WriteCloser

	events chan *entity.Event
	done   chan struct{}
}

var _ Worker = (*Process)(nil)

// Spawn starts the agent process for one conversation and begins decoding
// its event stream.
func Spawn(ctx context.Context, cfg Config, conversationID string) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command is not configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	args := append(append([]string(nil), cfg.Args...), "--conversation", conversationID)
	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	cmd.Env = append(cmd.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("worker stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start worker %q: %w", cfg.Command, err)
	}
	logger.Info("[Worker] spawned %q (pid=%d) for conversation %s", cfg.Command, cmd.Process.Pid, conversationID)

	p := &Process{
		conversationID: conversationID,
		cmd:            cmd,
		cancel:         cancel,
		stdin:          stdin,
		events:         make(chan *entity.Event, 64),
		done:           make(chan struct{}),
	}

	safego.Go(ctx, func() {
		drainStderr(conversationID, stderr)
	})
	safego.Go(ctx, func() {
		defer close(p.events)
		decodeEvents(stdout, conversationID, func(ev *entity.Event) {
			p.events <- ev
		})
	})
	safego.Go(ctx, func() {
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			logger.Warn("[Worker] process for conversation %s exited: %v", conversationID, err)
		}
		close(p.done)
	})

	return p, nil
}

func (p *Process) Events() <-chan *entity.Event { return p.events }

func (p *Process) Send(cmd *entity.WorkerCommand) error {
	if p.Stale() {
		return errno.ErrWorkerExited
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal worker command: %w", err)
	}
	data = append(data, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(data); err != nil {
		return fmt.Errorf("write worker command: %w", err)
	}
	return nil
}

// Abort asks the worker to cancel the in-flight turn. Best effort: if the
// stdin write fails the process is torn down instead.
func (p *Process) Abort() {
	err := p.Send(&entity.WorkerCommand{
		Type:           entity.WorkerCommandAbort,
		ConversationID: p.conversationID,
	})
	if err != nil {
		logger.Warn("[Worker] abort command for conversation %s failed, stopping process: %v", p.conversationID, err)
		p.Stop()
	}
}

func (p *Process) Stale() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Process) Stop() {
	p.cancel()
}
