package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	apperrors "github.com/vaidashi/courier-lifecycle/pkg/errors"
)

// jsonClient performs one JSON request against an upstream service and maps
// failures onto the application error taxonomy
type jsonClient struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func (c *jsonClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader

	if in != nil {
		reqBody, err := json.Marshal(in)

		if err != nil {
			return apperrors.NewInternalError(fmt.Sprintf("failed to marshal request: %v", err))
		}
		body = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)

	if err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to create request: %v", err))
	}

	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return apperrors.NewTimeoutError(fmt.Sprintf("%s request timed out", c.name))
		}
		return apperrors.NewUpstreamError(fmt.Sprintf("%s request failed: %v", c.name, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)

	if err != nil {
		return apperrors.NewUpstreamError(fmt.Sprintf("failed to read %s response: %v", c.name, err))
	}

	if resp.StatusCode >= 400 {
		return c.statusError(resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.NewAppError(apperrors.ErrUpstream, apperrors.CodeUpstream,
			fmt.Sprintf("failed to parse %s response: %v", c.name, err), http.StatusBadGateway, false)
	}

	return nil
}

func (c *jsonClient) statusError(status int) error {
	switch {
	case status == http.StatusNotFound:
		return apperrors.NewNotFoundError(fmt.Sprintf("%s returned not found", c.name))
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperrors.NewTimeoutError(fmt.Sprintf("%s request timed out", c.name))
	case status == http.StatusTooManyRequests || status >= 500:
		return apperrors.NewUpstreamError(fmt.Sprintf("%s service error: %d", c.name, status))
	default:
		// Other client errors will not succeed on retry
		return apperrors.NewAppError(apperrors.ErrUpstream, apperrors.CodeUpstream,
			fmt.Sprintf("%s rejected the request: %d", c.name, status), http.StatusBadGateway, false)
	}
}
