// Package fetch downloads subscription documents over http/https within
// fixed size and time limits.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/John-Robertt/route-cli/internal/model"
)

const (
	stage = "fetch_sub"

	DefaultTimeout      = 15 * time.Second
	DefaultMaxBytes     = 5 * 1024 * 1024
	DefaultMaxRedirects = 5
	DefaultUserAgent    = "route-cli"
)

type Options struct {
	Timeout      time.Duration // default 15s
	MaxBytes     int64         // default 5 MiB
	MaxRedirects int           // default 5
	UserAgent    string
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

type FetchError struct {
	// Status is the upstream HTTP status, when one was received.
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

func (e *FetchError) Is(target error) bool { return target == model.ErrSubscription }

func (e *FetchError) App() model.AppError { return e.AppError }

var (
	errTooManyRedirects   = errors.New("too many redirects")
	errRedirectBadScheme  = errors.New("redirect target scheme is not http/https")
	errInvalidURLOrScheme = errors.New("invalid url or scheme")
)

func Subscription(ctx context.Context, rawURL string) ([]byte, error) {
	return SubscriptionWithOptions(ctx, rawURL, Options{})
}

func SubscriptionWithOptions(ctx context.Context, rawURL string, opt Options) ([]byte, error) {
	timeout := opt.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	maxRedirects := opt.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = DefaultMaxRedirects
	}
	maxBytes := opt.MaxBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxBytes
	}
	if maxBytes <= 0 {
		return nil, newError(rawURL, 0, "INVALID_ARGUMENT", "size limit must be greater than 0", nil)
	}
	ua := opt.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	transport := opt.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	u, err := url.Parse(rawURL)
	if err != nil || u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, newError(rawURL, 0, "INVALID_ARGUMENT", "subscription URL must be http or https", errors.Join(errInvalidURLOrScheme, err))
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 1st redirect => len(via)==1.
			if len(via) > maxRedirects {
				return errTooManyRedirects
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return errRedirectBadScheme
			}
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, newError(rawURL, 0, "INVALID_ARGUMENT", "invalid request URL", err)
	}
	req.Header.Set("User-Agent", ua)

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		switch {
		case errors.Is(err, errTooManyRedirects):
			return nil, newError(rawURL, 0, "FETCH_FAILED", fmt.Sprintf("too many redirects (>%d)", maxRedirects), err)
		case errors.Is(err, errRedirectBadScheme):
			return nil, newError(rawURL, 0, "INVALID_ARGUMENT", "redirect target must be http or https", err)
		case isTimeout(err):
			return nil, newError(rawURL, 0, "FETCH_TIMEOUT", "subscription download timed out", err)
		case errors.Is(err, context.Canceled):
			return nil, err
		}
		return nil, newError(rawURL, 0, "FETCH_FAILED", "subscription download failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(rawURL, resp.StatusCode, "FETCH_FAILED", fmt.Sprintf("upstream returned status %d", resp.StatusCode), nil)
	}

	// Read at most maxBytes+1 to detect overflow deterministically.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		if isTimeout(err) {
			return nil, newError(rawURL, resp.StatusCode, "FETCH_TIMEOUT", "subscription download timed out", err)
		}
		return nil, newError(rawURL, resp.StatusCode, "FETCH_FAILED", "reading upstream response failed", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, newError(rawURL, resp.StatusCode, "TOO_LARGE", fmt.Sprintf("subscription is too large (>%d bytes)", maxBytes), nil)
	}
	if !utf8.Valid(body) {
		return nil, newError(rawURL, resp.StatusCode, "FETCH_INVALID_UTF8", "subscription is not valid UTF-8 text", nil)
	}
	return body, nil
}

// isTimeout unwraps *url.Error and friends.
func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func newError(rawURL string, status int, code, message string, cause error) error {
	return &FetchError{
		Status: status,
		AppError: model.AppError{
			Code:    code,
			Message: message,
			Stage:   stage,
			URL:     rawURL,
		},
		Cause: cause,
	}
}
