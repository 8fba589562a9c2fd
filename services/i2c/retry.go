package i2c

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
	"tinygo.org/x/drivers"

	"i2cserver-go/errcode"
)

// RetryOptions bound a Retrying wrapper.
type RetryOptions struct {
	Attempts int           // total tries, default 3
	Backoff  time.Duration // linear step, default 10ms
	// Budget caps retries across all calls sharing it; a call whose retry
	// is not admitted returns its last error. Nil means unlimited.
	Budget *rate.Limiter
	Sleep  func(context.Context, time.Duration) error
}

// Retrying retries temporary failures of an inner drivers.I2C. Any other
// error is returned at once.
type Retrying struct {
	inner drivers.I2C
	opts  RetryOptions
}

var _ drivers.I2C = (*Retrying)(nil)

func NewRetrying(inner drivers.I2C, opts RetryOptions) *Retrying {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 10 * time.Millisecond
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Retrying{inner: inner, opts: opts}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Retrying) Tx(addr uint16, w, rd []byte) error {
	return r.Do(context.Background(), func() error { return r.inner.Tx(addr, w, rd) })
}

// Do runs fn until it succeeds, fails permanently, or the attempts run out.
// Attempt n (from 0) waits Backoff*(n+1) before the next try.
func (r *Retrying) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < r.opts.Attempts; attempt++ {
		if err = fn(); err == nil || !temporary(err) {
			return err
		}
		if attempt == r.opts.Attempts-1 {
			break
		}
		if r.opts.Budget != nil && !r.opts.Budget.Allow() {
			return err
		}
		if serr := r.opts.Sleep(ctx, r.opts.Backoff*time.Duration(attempt+1)); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

func temporary(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.IsTemporary()
	}
	return errcode.IsTemporary(errcode.Of(err))
}
