package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// getJSON performs a GET against url and decodes the JSON body into out.
// A 429 (or 503 with Retry-After) is surfaced as a RateLimitError so the
// tracker can apply a cooldown instead of a plain failure.
func getJSON(ctx context.Context, client *http.Client, providerName, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") != "") {
		return &RateLimitError{
			Provider:   providerName,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// parseFloat converts an upstream string number, tolerating "None"/"-" and
// returning 0 (unpopulated) on anything unparseable.
func parseFloat(s string) float64 {
	if s == "" || s == "None" || s == "-" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseInt converts an upstream string integer, returning 0 on failure.
func parseInt(s string) int64 {
	if s == "" || s == "None" || s == "-" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return int64(parseFloat(s))
	}
	return n
}

// parsePercent converts values like "1.23%" to 1.23.
func parsePercent(s string) float64 {
	if n := len(s); n > 0 && s[n-1] == '%' {
		s = s[:n-1]
	}
	return parseFloat(s)
}

// floatString renders a float for string-typed fields, "" for zero.
func floatString(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// putIfSet copies a value into a field map only when it is populated, so
// upstream zeros never look like real data.
func putIfSet(m map[string]any, key string, v any) {
	switch x := v.(type) {
	case string:
		if x != "" {
			m[key] = x
		}
	case float64:
		if x != 0 {
			m[key] = x
		}
	case int64:
		if x != 0 {
			m[key] = x
		}
	case int:
		if x != 0 {
			m[key] = int64(x)
		}
	}
}
