package model

import "errors"

// AppError is the error payload every pipeline stage attaches to its typed error.
// Stage names the component that produced it so the operator can tell where a
// run stopped.
type AppError struct {
	Code    string
	Message string
	Stage   string

	URL     string
	Line    int    // 1-based; 0 means "not set"
	Snippet string // <= 200 chars
	Hint    string
}

// Taxonomy sentinels. Typed stage errors report them through Is, so callers can
// classify failures with errors.Is without knowing the concrete type.
var (
	ErrSubscription     = errors.New("subscription error")
	ErrNoReachableNode  = errors.New("no reachable node")
	ErrUnsupportedNode  = errors.New("unsupported node")
	ErrCoreUnavailable  = errors.New("proxy core unavailable")
	ErrCoreStartTimeout = errors.New("proxy core start timeout")
	ErrTargetNotFound   = errors.New("target command not found")
)

// AppErrorCarrier is implemented by every typed stage error.
type AppErrorCarrier interface {
	error
	App() AppError
}

// AsAppError returns the AppError of the first stage error in err's chain.
func AsAppError(err error) (AppError, bool) {
	var c AppErrorCarrier
	if errors.As(err, &c) {
		return c.App(), true
	}
	return AppError{}, false
}
