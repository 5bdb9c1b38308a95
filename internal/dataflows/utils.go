package dataflows

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig returns the remote-source retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}
}

// WithRetry executes fn with exponential backoff until it succeeds, the
// retries are exhausted or ctx is done.
func WithRetry(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := config.BaseDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry aborted: %w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateSymbol checks the U.S. ticker format.
func ValidateSymbol(symbol string) error {
	if !tickerPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol %q: expected 1-5 upper-case letters", symbol)
	}
	return nil
}

// ParseDate parses an ISO calendar day.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// FormatDateRange formats a date range for text headers.
func FormatDateRange(start, end time.Time) string {
	return fmt.Sprintf("%s to %s", start.Format(dateLayout), end.Format(dateLayout))
}

// textHeader is the first line of every text payload.
func textHeader(title, symbol, provider string, start, end time.Time) string {
	return fmt.Sprintf("## %s for %s from %s (%s)\n\n", title, symbol, provider, FormatDateRange(start, end))
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	if i := strings.LastIndexByte(cut, ' '); i > max/2 {
		cut = cut[:i]
	}
	return cut + "..."
}
