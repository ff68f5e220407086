// Package runner hosts a conversation session as a process: banner, start
// hook, wait for shutdown, drain the controller, stop.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

// Hooks run at session boundaries. OnStart typically activates the
// controller, OnStop releases platform audio resources.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// Drainer finishes the live conversation before shutdown. The controller's
// Deactivate satisfies this through DrainFunc.
type Drainer interface {
	Drain() error
}

// DrainFunc adapts a plain function to Drainer.
type DrainFunc func() error

func (f DrainFunc) Drain() error { return f() }

const Version = "dev"

func PrintBanner() {
	tpl := "{{ .Title \"VOICETURN\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(os.Stdout, true, true, bytes.NewBufferString(tpl))
}

// SessionRunner runs one conversation session until its context ends, then
// drains with a timeout. Stop is idempotent.
type SessionRunner struct {
	state    int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
}

func NewSessionRunner(drainer Drainer, hooks Hooks, drainTimeout time.Duration) *SessionRunner {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SessionRunner{
		state:   int32(StateNew),
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		timeout: drainTimeout,
	}
}

// Run blocks until ctx ends or Stop is called, then drains.
func (r *SessionRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("runner already started")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	<-r.ctx.Done()
	return r.stop()
}

// RunUntilSignal runs until SIGINT/SIGTERM.
func (r *SessionRunner) RunUntilSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx)
}

func (r *SessionRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *SessionRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *SessionRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			done := make(chan struct{})
			go func() {
				_ = r.drainer.Drain()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(r.timeout):
				r.stopErr = errors.New("drain timeout")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *SessionRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *SessionRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
