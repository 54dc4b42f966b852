package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/config"
)

// HTTPSender talks to a WhatsApp gateway over its REST API. One sender
// is bound to one gateway instance.
type HTTPSender struct {
	baseURL  string
	instance string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

func NewHTTPSender(cfg config.ProviderConfig, logger *zap.Logger) *HTTPSender {
	return &HTTPSender{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		instance: cfg.Instance,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: cfg.Timeout.Std()},
		logger:   logger,
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

func (s *HTTPSender) Send(ctx context.Context, recipient, body string) (string, error) {
	payload, err := json.Marshal(sendTextRequest{Number: recipient, Text: body})
	if err != nil {
		return "", &Error{Kind: KindProviderError, Err: err}
	}

	url := fmt.Sprintf("%s/message/sendText/%s", s.baseURL, s.instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Kind: KindProviderError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Kind: KindProviderError, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out sendTextResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			s.logger.Warn("gateway response not decodable, treating as sent",
				zap.Int("status", resp.StatusCode))
			return "", nil
		}
		return out.Key.ID, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &Error{
			Kind:       KindThrottled,
			RetryAfter: retryAfterHeader(resp),
			Err:        fmt.Errorf("gateway returned 429"),
		}
	case resp.StatusCode == http.StatusBadRequest && looksLikeBadNumber(raw):
		return "", &Error{
			Kind: KindInvalidRecipient,
			Err:  fmt.Errorf("gateway rejected recipient %q", recipient),
		}
	default:
		return "", &Error{
			Kind: KindProviderError,
			Err:  fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(raw, 200)),
		}
	}
}

func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// looksLikeBadNumber sniffs the gateway error body for a recipient
// validation failure, which is the one 400 we must not retry.
func looksLikeBadNumber(raw []byte) bool {
	lower := strings.ToLower(string(raw))
	return strings.Contains(lower, "number") &&
		(strings.Contains(lower, "invalid") || strings.Contains(lower, "not exist") ||
			strings.Contains(lower, "not found"))
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
