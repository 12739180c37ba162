package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBodyBytes caps how much of an error response body is carried
// into the returned error message.
const maxErrorBodyBytes = 512

// postJSON issues a JSON POST and decodes the response into out,
// mapping failures onto the package error taxonomy:
//   - transport errors → ErrProviderUnavailable
//   - auth, rate-limit, and 5xx statuses → ErrProviderUnavailable
//   - other non-2xx statuses and undecodable bodies → ErrUnexpectedResponse
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if transientStatus(resp.StatusCode) {
			return fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, snippet)
		}
		return fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, resp.StatusCode, snippet)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", ErrProviderUnavailable, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return nil
}

// transientStatus reports whether an HTTP status represents an upstream
// or auth condition the caller may retry after intervention, as opposed
// to a malformed-exchange condition.
func transientStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusRequestTimeout,
		http.StatusTooManyRequests:
		return true
	}
	return code >= 500
}
