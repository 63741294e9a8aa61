// Package render produces the proxy core's runtime configuration for one node
// and routing policy.
package render

import (
	"fmt"

	"github.com/John-Robertt/route-cli/internal/model"
)

const (
	TagProxy   = "proxy"
	TagDirect  = "direct"
	TagInbound = "mixed-in"

	ListenAddr = "127.0.0.1"
)

type ConfigError struct {
	AppError model.AppError
	Cause    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func (e *ConfigError) Is(target error) bool {
	return target == model.ErrUnsupportedNode && e.AppError.Code == "UNSUPPORTED_NODE"
}

func (e *ConfigError) App() model.AppError { return e.AppError }

func unsupported(n model.Node, reason string) error {
	return &ConfigError{
		AppError: model.AppError{
			Code:    "UNSUPPORTED_NODE",
			Message: fmt.Sprintf("node %q (%s) cannot be used: %s", n.Name, n.Kind, reason),
			Stage:   "render",
			Snippet: n.Name,
			Hint:    "pick another node with `use-node`, or leave the choice to `run`",
		},
	}
}

func invalidPolicy(message string) error {
	return &ConfigError{
		AppError: model.AppError{
			Code:    "INVALID_POLICY",
			Message: message,
			Stage:   "render",
		},
	}
}
