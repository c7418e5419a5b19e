package domain

import "errors"

var (
	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionCanceled  = errors.New("auction canceled")
	ErrUnknownStatus    = errors.New("unknown auction status")
	ErrInvalidBidAmount = errors.New("invalid bid amount")
	ErrMissingRequestID = errors.New("missing request id")
	ErrInvalidBidder    = errors.New("invalid bidder id")
	ErrCacheMiss        = errors.New("auction not cached")
	ErrMalformedEvent   = errors.New("malformed bid event")
)

// RetriableError marks failures that may succeed when attempted again.
type RetriableError interface {
	error
	IsRetriable() bool
}

func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ApplyError wraps a failure while applying a bid event.
type ApplyError struct {
	Op        string
	Err       error
	Retriable bool
}

func (e *ApplyError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ApplyError) IsRetriable() bool {
	return e.Retriable
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

func NewRetryableError(op string, err error) *ApplyError {
	return &ApplyError{Op: op, Err: err, Retriable: true}
}

func NewPermanentError(op string, err error) *ApplyError {
	return &ApplyError{Op: op, Err: err, Retriable: false}
}
