package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/autoreply-agent/internal/common"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
	"github.com/suPer8Hu/autoreply-agent/internal/webhook"
)

const maxWebhookBody = 1 << 20

// VerifyWebhook answers the platform's subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	got, err := webhook.Verify(mode, token, challenge, h.App.Cfg.WebhookVerifyToken)
	if err != nil {
		logx.Warn().Str("mode", mode).Msg("webhook verification failed")
		c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
		return
	}
	logx.Info().Msg("webhook verified")
	c.String(http.StatusOK, got)
}

// ReceiveWebhook acknowledges a delivery as soon as its messages are queued.
// Processing failures never change the response.
func (h *Handler) ReceiveWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		logx.Warn().Err(err).Msg("webhook body read failed")
		h.App.Metrics.RecordWebhookDelivery("", "unreadable")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	if secret := h.App.Cfg.WebhookAppSecret; secret != "" {
		if !webhook.VerifySignature(body, c.GetHeader(webhook.SignatureHeader), secret) {
			h.App.Metrics.RecordWebhookDelivery("", "bad_signature")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
	}

	var env webhook.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		logx.Warn().Err(err).Msg("webhook payload is not valid json")
		h.App.Metrics.RecordWebhookDelivery("", "malformed")
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	deliveryID, err := common.NewULID()
	if err != nil {
		logx.Error().Err(err).Msg("delivery id generation failed")
	}
	now := time.Now()
	msgs := webhook.Normalize(env)
	for i := range msgs {
		msgs[i].DeliveryID = deliveryID
		msgs[i].ReceivedAt = now
		h.App.Metrics.RecordInbound(string(msgs[i].Platform))
	}

	ctx := c.Request.Context()
	if h.App.Deliveries != nil && deliveryID != "" {
		if err := h.App.Deliveries.Record(ctx, deliveryID, env.Object, len(msgs), body, now); err != nil {
			logx.Warn().Err(err).Str("delivery_id", deliveryID).Msg("delivery audit write failed")
		}
	}

	status := "accepted"
	switch {
	case len(msgs) == 0:
		status = "empty"
	case h.Ingest == nil:
		status = "dropped"
		logx.Warn().Str("delivery_id", deliveryID).Int("messages", len(msgs)).Msg("no pipeline available, messages dropped")
	default:
		if err := h.Ingest.Ingest(ctx, msgs); err != nil {
			status = "ingest_failed"
			logx.Error().Err(err).Str("delivery_id", deliveryID).Msg("webhook ingest failed")
		}
	}
	h.App.Metrics.RecordWebhookDelivery(env.Object, status)

	logx.Debug().
		Str("delivery_id", deliveryID).
		Str("object", env.Object).
		Int("messages", len(msgs)).
		Str("status", status).
		Msg("webhook received")
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
