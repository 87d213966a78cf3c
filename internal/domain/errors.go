package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// StreamError represents a websocket stream failure. Stream errors are
// always retriable; the consumers reconnect with backoff indefinitely.
type StreamError struct {
	Channel string
	Err     error
}

func (e *StreamError) Error() string {
	return "stream [" + e.Channel + "]: " + e.Err.Error()
}

func (e *StreamError) IsRetriable() bool {
	return true
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// NewStreamError wraps an error from a stream consumer.
func NewStreamError(channel string, err error) *StreamError {
	return &StreamError{Channel: channel, Err: err}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrNoQuote is returned by the pricing engine when strict-parameters
	// mode is on and no valid parameters exist. The caller skips the cycle
	// instead of quoting blind.
	ErrNoQuote = errors.New("no valid quote parameters")

	// ErrMarketNotFound is returned when metadata lookup cannot resolve the
	// configured symbol. Fatal at startup.
	ErrMarketNotFound = errors.New("market not found")

	// ErrStaleBook is returned when no trustworthy mid price is available.
	ErrStaleBook = errors.New("order book stale or empty")

	// ErrReconnectTimeout is returned when a restarted book stream does not
	// deliver a snapshot within the reconnect window. Transient.
	ErrReconnectTimeout = errors.New("stream reconnect timed out")
)
