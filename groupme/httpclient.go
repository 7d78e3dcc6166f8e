package groupme

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type LeveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l LeveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l LeveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type HTTPOption func(*retryablehttp.Client, *http.Client)

func WithMaxRetries(n int) HTTPOption {
	return func(rc *retryablehttp.Client, _ *http.Client) {
		rc.RetryMax = n
	}
}

func WithTimeout(d time.Duration) HTTPOption {
	return func(_ *retryablehttp.Client, c *http.Client) {
		c.Timeout = d
	}
}

func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(rc *retryablehttp.Client, _ *http.Client) {
		rc.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: logger})
	}
}

// NewHTTPClient returns a stdlib *http.Client with retryablehttp logic inside.
//
// Only idempotent requests that never got a response (connection refused or reset) are resent, once, after a short wait. Every HTTP status goes back to the caller: 429s are queued by the application with their Retry-After, and other failures are reported rather than retried inline on the webhook path.
//
// Timeouts are short by default; the membership API is called from webhook handlers.
func NewHTTPClient(options ...HTTPOption) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = otelhttp.NewTransport(cleanhttp.DefaultPooledTransport())
	retryClient.RetryMax = 1
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 500 * time.Millisecond
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{inner: slog.Default().With("subsystem", "groupme-http")})
	retryClient.CheckRetry = RetryPolicy
	// hand the final response back, so callers see the real status code
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := retryClient.StandardClient()
	client.Timeout = 10 * time.Second
	for _, option := range options {
		option(retryClient, client)
	}
	return client
}

type idempotentKey struct{}

// WithIdempotent marks a request context as safe to resend after a connection failure.
func WithIdempotent(ctx context.Context) context.Context {
	return context.WithValue(ctx, idempotentKey{}, true)
}

func isIdempotent(ctx context.Context) bool {
	v, _ := ctx.Value(idempotentKey{}).(bool)
	return v
}

// RetryPolicy resends a request only when it failed before any response arrived and its context was marked with WithIdempotent.
func RetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil || !isIdempotent(ctx) {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}
