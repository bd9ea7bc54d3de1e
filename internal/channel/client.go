// Package channel sends outbound messages through the WhatsApp provider's
// HTTP API. Requests are rate limited client-side so reply bursts do not
// trip the provider's throttling.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/convoflow/internal/config"
	"github.com/convoflow/internal/logging"
)

// Client posts messages to the provider conversation endpoint
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	testMode   bool
	log        zerolog.Logger
}

// NewClient creates a channel client from configuration
func NewClient(cfg *config.Config) *Client {
	perSecond := cfg.Channel.RatePerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := cfg.Channel.Burst
	if burst <= 0 {
		burst = perSecond
	}
	return &Client{
		baseURL:    cfg.Channel.BaseURL,
		apiKey:     cfg.Channel.APIKey,
		httpClient: &http.Client{Timeout: cfg.ChannelTimeout()},
		limiter:    rate.NewLimiter(rate.Every(time.Second/time.Duration(perSecond)), burst),
		testMode:   cfg.Channel.TestMode,
		log:        logging.Component("channel"),
	}
}

type sendMessageRequest struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type sendMessageResponse struct {
	ID      json.Number `json:"id"`
	Message struct {
		ID json.Number `json:"id"`
	} `json:"message"`
}

// SendText posts a text message into the provider conversation and returns
// the provider-assigned message id. In test mode no request is made and a
// synthetic id is returned.
func (c *Client) SendText(ctx context.Context, conversationExternalID, text string) (string, error) {
	if c.testMode {
		id := "test-" + uuid.NewString()
		c.log.Debug().
			Str("conversation", conversationExternalID).
			Str("message_id", id).
			Msg("Test mode send, skipping provider call")
		return id, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	var payload sendMessageRequest
	payload.Message.Content = text
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode message payload: %w", err)
	}

	url := fmt.Sprintf("%s/whatsapp_conversations/%s/whatsapp_messages", c.baseURL, conversationExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("conversation", conversationExternalID).
			Msg("Provider rejected outbound message")
		return "", fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	var parsed sendMessageResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// Delivery succeeded; a missing id only weakens status correlation.
		c.log.Warn().Err(err).Msg("Could not parse provider send response")
		return "", nil
	}

	id := parsed.ID.String()
	if id == "" {
		id = parsed.Message.ID.String()
	}
	return id, nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
