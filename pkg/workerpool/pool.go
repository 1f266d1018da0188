// Package workerpool drives a fixed number of parallel workers, each with
// its own StackRunner and cache connection, pulling objects from a shared
// scope and pushing accepted objects to a shared blast sink. The blast sink
// is closed exactly once, after the last worker has exited, via a
// reference-counted lifetime token rather than the source implementation's
// destructor-driven cleanup (see the redesign notes this replaces).
package workerpool

import (
	"context"
	"errors"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/filterstack/engine/pkg/infrastructure/logging"
	"github.com/filterstack/engine/pkg/object"
	"github.com/filterstack/engine/pkg/stackrunner"
)

// ErrSinkClosed is the distinguished error a Sink returns when its peer has
// gone away. A worker observing it exits cleanly rather than treating it as
// an unexpected fault.
var ErrSinkClosed = errors.New("workerpool: blast sink closed by peer")

// Source is the scope iterator a worker drains. Next returns io.EOF when
// the scope is exhausted; Source implementations must be safe for
// concurrent use by every worker in the pool.
type Source interface {
	Next(ctx context.Context) (object.Object, error)
}

// Sink is the blast-channel destination for accepted objects. Send returns
// ErrSinkClosed when the downstream peer has disconnected; Sink
// implementations must be safe for concurrent use by every worker in the
// pool.
type Sink interface {
	Send(ctx context.Context, obj object.Object) error
	Close() error
}

// Fault reports a single worker's unrecoverable error to the supervisor.
type Fault struct {
	WorkerID int
	Err      error
}

// RunnerFactory builds the per-worker StackRunner and its teardown. Each
// worker calls it exactly once, so a KV-store connection and every
// FilterRunner's child process are exclusively owned by one worker for the
// worker's lifetime, per the concurrency model's per-worker-connection
// discipline.
type RunnerFactory func(workerID int) (runner *stackrunner.Runner, closeRunner func(), err error)

// Pool runs Workers goroutines, each built from factory, draining source
// and pushing accepted objects to sink.
type Pool struct {
	Workers int
	Source  Source
	Sink    Sink
	Factory RunnerFactory
	Logger  *logging.Logger

	// Faults receives one Fault per worker that exits abnormally. It is
	// buffered to Workers capacity by Run so no worker ever blocks
	// reporting its own exit; a supervisor that never reads it simply
	// never learns why a worker died.
	Faults chan Fault
}

// Run starts every worker and blocks until all of them have exited, either
// because the scope was exhausted, the sink rejected a write, or ctx was
// canceled. It returns the first error any worker encountered, using
// errgroup's structured-concurrency cancellation so a fatal error in one
// worker stops the others promptly.
func (p *Pool) Run(ctx context.Context) error {
	if p.Faults == nil {
		p.Faults = make(chan Fault, p.Workers)
	}

	token := newLifetimeToken(p.Workers, p.Sink)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.Workers; i++ {
		workerID := i
		g.Go(func() error {
			defer token.release()
			return p.runWorker(gctx, workerID)
		})
	}

	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID int) error {
	logger := p.Logger.WithComponent("worker")

	runner, closeRunner, err := p.Factory(workerID)
	if err != nil {
		return err
	}
	defer closeRunner()

	for {
		obj, err := p.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			p.reportFault(workerID, err)
			return err
		}

		accepted, err := runner.Evaluate(ctx, obj)
		if err != nil {
			p.reportFault(workerID, err)
			return err
		}
		if !accepted {
			continue
		}

		if err := p.Sink.Send(ctx, obj); err != nil {
			if errors.Is(err, ErrSinkClosed) {
				logger.Infof("worker %d exiting: blast sink closed", workerID)
				return nil
			}
			p.reportFault(workerID, err)
			return err
		}
	}
}

func (p *Pool) reportFault(workerID int, err error) {
	select {
	case p.Faults <- Fault{WorkerID: workerID, Err: err}:
	default:
	}
}

// lifetimeToken closes a Sink exactly once, when the last of n holders has
// released it. This replaces the source's destructor-driven "close sink
// when the last worker object is garbage collected" with explicit
// reference counting.
type lifetimeToken struct {
	mu       sync.Mutex
	n        int
	sink     Sink
	released bool
}

func newLifetimeToken(n int, sink Sink) *lifetimeToken {
	return &lifetimeToken{n: n, sink: sink}
}

func (t *lifetimeToken) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.released {
		return
	}
	t.n--
	if t.n > 0 {
		return
	}
	t.released = true
	t.sink.Close()
}
