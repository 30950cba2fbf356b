package exchange

import (
	"errors"
	"fmt"
)

// Binance error code for request weight exhaustion.
const codeTooManyRequests = -1003

var (
	// ErrUnavailable means no authenticated exchange client could be built.
	ErrUnavailable = errors.New("exchange not connected")
	// ErrRateLimited matches rejections caused by request rate limits.
	ErrRateLimited = errors.New("exchange rate limit exceeded")
)

// RejectedError is returned when the exchange was reachable but refused the request.
type RejectedError struct {
	Op      string
	Code    int64
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("exchange rejected %s: %s (code %d)", e.Op, e.Message, e.Code)
}

// Is lets errors.Is(err, ErrRateLimited) see through rate-limit rejections.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRateLimited && (e.Code == codeTooManyRequests || e.Code == 429)
}

// AsRejected unwraps a *RejectedError from err.
func AsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Describe renders err for an operator, keeping "not connected" and "rejected" apart.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrUnavailable) {
		return "exchange not connected"
	}
	if rej, ok := AsRejected(err); ok {
		return fmt.Sprintf("exchange rejected %s: %s", rej.Op, rej.Message)
	}
	return fmt.Sprintf("exchange error: %v", err)
}
