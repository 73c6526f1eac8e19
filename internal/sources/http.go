package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// newHTTPClient returns the client used when none is injected. Deadlines
// come from the caller's context.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Minute}
}

// send executes req and classifies the outcome. 429 and 5xx are transient,
// other 4xx fatal.
func send(ctx context.Context, client *http.Client, source string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, transient(source, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transient(source, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transient(source, resp.StatusCode, fmt.Errorf("%s", snippet(body)))
	case resp.StatusCode >= 400:
		return nil, fatal(source, resp.StatusCode, fmt.Errorf("%s", snippet(body)))
	}
	return body, nil
}

// getJSON issues a GET and decodes the JSON body into dst
func getJSON(ctx context.Context, client *http.Client, source, url string, headers map[string]string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fatal(source, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	body, err := send(ctx, client, source, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fatal(source, 0, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
