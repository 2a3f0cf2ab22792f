package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned when MaxInFlight sends are already running.
var ErrQueueFull = errors.New("mail: dispatcher queue full")

// ErrClosed is returned by sends issued after Shutdown.
var ErrClosed = errors.New("mail: dispatcher closed")

// DefaultMaxInFlight bounds concurrent background sends.
const DefaultMaxInFlight = 64

// Dispatcher implements Mailer by handing each message to inner on a
// background goroutine with its own deadline, so a slow provider never
// holds up the HTTP response. The request context's values are kept but
// its cancellation is not: the client disconnecting does not abort the send.
type Dispatcher struct {
	inner   Mailer
	timeout time.Duration
	logger  *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ Mailer = (*Dispatcher)(nil)

// NewDispatcher wraps inner. timeout bounds each send; maxInFlight <= 0
// means DefaultMaxInFlight.
func NewDispatcher(inner Mailer, timeout time.Duration, maxInFlight int, logger *slog.Logger) *Dispatcher {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	return &Dispatcher{
		inner:   inner,
		timeout: timeout,
		logger:  logger,
		slots:   make(chan struct{}, maxInFlight),
	}
}

// SendPasswordReset schedules msg and returns immediately. Delivery errors
// are logged, not returned.
func (d *Dispatcher) SendPasswordReset(ctx context.Context, msg PasswordReset) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	select {
	case d.slots <- struct{}{}:
	default:
		d.logger.Warn("mail dispatcher saturated, dropping email", slog.String("to", msg.To))
		return ErrQueueFull
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		start := time.Now()
		if err := d.inner.SendPasswordReset(sendCtx, msg); err != nil {
			d.logger.Error("password reset email failed",
				slog.String("to", msg.To),
				slog.Duration("elapsed", time.Since(start)),
				slog.String("error", err.Error()),
			)
			return
		}
		d.logger.Info("password reset email sent",
			slog.String("to", msg.To),
			slog.Duration("elapsed", time.Since(start)),
		)
	}()
	return nil
}

// Shutdown stops accepting new messages and waits for in-flight sends to
// finish or for ctx to be done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
