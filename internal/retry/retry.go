// Package retry implements exponential backoff for network operations.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asheshgoplani/termbot/internal/logging"
)

var retryLog = logging.ForComponent(logging.CompTelegram)

const (
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 300 * time.Second
	DefaultMaxRetries = 10
)

// Policy describes an exponential backoff schedule.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the standard policy: 1s doubling up to 5 minutes, 10 retries.
func Default() Policy {
	return Policy{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// Delay returns the wait before retry number attempt (0-indexed), capped at
// MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, MaxRetries retries have failed, or ctx is
// done. The last error is returned.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt >= p.MaxRetries {
			retryLog.Error("retries_exhausted", "op", name, "max_retries", p.MaxRetries, "error", err)
			return err
		}

		delay := p.Delay(attempt)
		retryLog.Warn("retry_scheduled",
			"op", name,
			"attempt", attempt+1,
			"max_retries", p.MaxRetries,
			"delay", delay.String(),
			"error", err)
		if serr := sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var transientMarkers = []string{
	"connection",
	"timeout",
	"network",
	"temporary",
	"unavailable",
	"rate limit",
}

// IsTransient reports whether err is likely to go away on retry: timeouts,
// network errors, Telegram flood control and server errors, or errors whose
// text mentions one of the usual suspects.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		if tgErr.Code == 429 || tgErr.Code >= 500 || tgErr.RetryAfter > 0 {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
