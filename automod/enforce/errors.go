package enforce

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/clankerbot/clanker/automod/moderr"
	"github.com/clankerbot/clanker/groupme"
)

// A 429 from a remote API, with the server's requested delay (zero if none given).
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited: %v", e.Err)
}

func (e *RateLimitError) Unwrap() []error {
	return []error{moderr.ErrRateLimited, e.Err}
}

func retryAfterOf(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return groupme.RetryAfter(err)
}

// classifyAPIError wraps a groupme client error with its moderr class.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *groupme.APIError
	if !errors.As(err, &apiErr) {
		if moderr.Classify(err) == moderr.ClassTransient {
			return fmt.Errorf("%w: %w", moderr.ErrTransient, err)
		}
		return err
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: apiErr.RetryAfter, Err: err}
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w", moderr.ErrUnauthorized, err)
	case apiErr.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %w", moderr.ErrNotFound, err)
	case apiErr.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %w", moderr.ErrConflict, err)
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %w", moderr.ErrTransient, err)
	}
	return err
}
