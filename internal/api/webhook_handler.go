package api

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/convoflow/internal/webhookutils"
)

// maxWebhookBody caps how much of a delivery body is read
const maxWebhookBody = 1 << 20

// ChannelWebhookHandler handles incoming provider deliveries. The raw body is
// read before anything else so signature verification covers exactly the
// bytes on the wire.
func (s *Server) ChannelWebhookHandler(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "could not read request body",
		})
	}

	if secret := s.cfg.Webhook.Secret; secret != "" {
		signature := webhookutils.GetHeaderCaseInsensitive(c.Request().Header, webhookutils.SignatureHeader)
		if !webhookutils.VerifySignature(secret, body, signature) {
			s.log.Warn().Str("remote", c.RealIP()).Msg("Rejected delivery with bad signature")
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid signature",
			})
		}
	}

	idempotencyKey := webhookutils.GetHeaderCaseInsensitive(c.Request().Header, webhookutils.IdempotencyKeyHeader)

	result, err := s.ingestor.Ingest(c.Request().Context(), body, idempotencyKey)
	if err != nil {
		s.log.Error().Err(err).Msg("Event processing failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "event processing failed",
		})
	}

	if result.Status == "failed" {
		return c.JSON(http.StatusBadRequest, result)
	}
	return c.JSON(http.StatusOK, result)
}
