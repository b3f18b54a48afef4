package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sigweihq/simchain/pkg/constants"
)

// postEnvelope delivers one envelope to a relayer endpoint and decodes its acknowledgement
func postEnvelope(ctx context.Context, client *http.Client, endpoint string, envelope Envelope, headers map[string]string) (*sendResponse, error) {
	payload, err := envelope.Marshal()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, constants.MaxResponseBodySize)
	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: raw}
	}

	// 202 with an empty body is a valid acknowledgement
	var ack sendResponse
	if err := json.NewDecoder(body).Decode(&ack); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode relay acknowledgement: %w", err)
	}
	return &ack, nil
}

// HTTPError is a non-2xx answer from a relayer
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	var rejection struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if len(e.Body) == 0 {
		return fmt.Sprintf("relayer answered %s", e.Status)
	}
	if json.Unmarshal(e.Body, &rejection) == nil && rejection.Error != "" {
		if rejection.Reason != "" {
			return fmt.Sprintf("relayer answered %d: %s (%s)", e.StatusCode, rejection.Error, rejection.Reason)
		}
		return fmt.Sprintf("relayer answered %d: %s", e.StatusCode, rejection.Error)
	}
	return fmt.Sprintf("relayer answered %s: %s", e.Status, bytes.TrimSpace(e.Body))
}

// IsServerError reports a 5xx answer
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// IsUnauthorized reports a rejected API key
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
