package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/use-agent/otakuscrape/models"
)

// ErrPoolClosed is returned by the browser pool after Close.
var ErrPoolClosed = errors.New("engine: browser pool closed")

// FetchError is a single failed attempt, classified.
type FetchError struct {
	Kind       models.ErrorKind
	Strategy   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch: %s: %s", e.Strategy, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) ErrorKind() models.ErrorKind { return e.Kind }

// Failure is returned by Fetcher.Fetch when no strategy produced usable
// HTML. Kind is the terminal kind that stopped the chain, KindTimeout when
// the caller's deadline ran out, or KindExhausted when every strategy
// failed with an escalating kind.
type Failure struct {
	Kind     models.ErrorKind
	Last     error
	Attempts []models.FetchAttempt
}

func (f *Failure) Error() string {
	if f.Last == nil {
		return fmt.Sprintf("fetch: %s", f.Kind)
	}
	return fmt.Sprintf("fetch: %s: %v", f.Kind, f.Last)
}

func (f *Failure) Unwrap() error { return f.Last }

func (f *Failure) ErrorKind() models.ErrorKind { return f.Kind }

// LastKind returns the kind of the final attempt.
func (f *Failure) LastKind() models.ErrorKind {
	return models.KindOf(f.Last)
}

// classify maps a transport-level error to an error kind.
func classify(err error) models.ErrorKind {
	var k models.Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, ErrPoolClosed) {
		return models.KindOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.KindOther
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return models.KindOther
		}
		if dnsErr.IsTimeout {
			return models.KindTimeout
		}
		return models.KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.KindTimeout
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return models.KindNetwork
	}

	return classifyMessage(err.Error())
}

// classifyMessage handles errors that only carry text, such as Chromium
// net::ERR_* navigation failures.
func classifyMessage(msg string) models.ErrorKind {
	switch {
	case strings.Contains(msg, "ERR_NAME_NOT_RESOLVED"),
		strings.Contains(msg, "no such host"):
		return models.KindOther
	case strings.Contains(msg, "ERR_TIMED_OUT"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "Client.Timeout"):
		return models.KindTimeout
	case strings.Contains(msg, "ERR_INVALID_URL"),
		strings.Contains(msg, "unsupported protocol scheme"):
		return models.KindInvalid
	case strings.Contains(msg, "ERR_BLOCKED_BY"),
		strings.Contains(msg, "ERR_HTTP2_PROTOCOL_ERROR"):
		return models.KindBlocked
	}
	return models.KindNetwork
}
