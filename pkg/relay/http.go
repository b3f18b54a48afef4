package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/constants"
	"github.com/sigweihq/simchain/pkg/types"
	"github.com/sigweihq/simchain/pkg/utils"
)

// HTTPRelay posts bridge messages to relayer services, trying each URL in order
type HTTPRelay struct {
	urls       []string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Verify HTTPRelay implements MessageRelay
var _ MessageRelay = (*HTTPRelay)(nil)

// sendResponse is the relayer's acknowledgement
type sendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// NewHTTPRelay creates an HTTP relay. Every URL must use HTTPS except localhost.
func NewHTTPRelay(logger *slog.Logger, urls []string, apiKey string) (*HTTPRelay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one relay URL is required")
	}
	for _, url := range urls {
		if err := utils.ValidateEndpointURL(url); err != nil {
			return nil, err
		}
	}
	return &HTTPRelay{
		urls:       urls,
		apiKey:     apiKey,
		httpClient: utils.CreateHTTPClientWithTimeouts(constants.RelayTimeout),
		logger:     logger,
	}, nil
}

// Send implements MessageRelay. The message id is generated locally and reused on every
// relayer, so a relayer that accepted a message before failing over can deduplicate it.
func (r *HTTPRelay) Send(ctx context.Context, msg types.BridgeMessage) (string, error) {
	envelope := NewEnvelope(msg)

	headers := map[string]string{"Idempotency-Key": envelope.MessageID}
	if r.apiKey != "" {
		headers["Authorization"] = "Bearer " + r.apiKey
	}

	var lastErr error
	for i, baseURL := range r.urls {
		resp, err := postEnvelope(ctx, r.httpClient, strings.TrimRight(baseURL, "/")+"/messages", envelope, headers)
		if err == nil {
			if resp.MessageID != "" && resp.MessageID != envelope.MessageID {
				r.logger.Warn("relayer assigned its own message id", "relay", baseURL, "sent", envelope.MessageID, "received", resp.MessageID)
				return resp.MessageID, nil
			}
			return envelope.MessageID, nil
		}

		r.logger.Warn("relay attempt failed",
			"relay", baseURL,
			"attempt", i+1,
			"error", err,
			"willRetry", shouldRetryWithNextRelay(err))

		lastErr = err

		// Don't retry for validation/client errors
		if !shouldRetryWithNextRelay(err) {
			return "", chains.NewError(chains.ErrBridgeMessage, msg.TargetChain, "relay", err)
		}
	}

	return "", chains.NewError(chains.ErrBridgeMessage, msg.TargetChain, "relay",
		fmt.Errorf("all relays failed, last error: %w", lastErr))
}

// shouldRetryWithNextRelay determines if we should try the next relay
func shouldRetryWithNextRelay(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// Retry on server errors and bad credentials for this relay
		return httpErr.IsServerError() || httpErr.IsUnauthorized()
	}

	errStr := err.Error()

	// Retry on network/infrastructure errors
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "context deadline exceeded") ||
		strings.Contains(errStr, "failed to send request")
}
