package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/suPer8Hu/autoreply-agent/internal/errx"
)

// DeliveryError carries the platform's response for a rejected send.
type DeliveryError struct {
	Platform Kind
	Status   int
	Body     string
}

func (e *DeliveryError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Platform, e.Body)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Platform, e.Status, e.Body)
}

// Gateway sends text messages through the Graph API Send endpoint.
// Facebook pages and Instagram professional accounts share the endpoint.
type Gateway struct {
	BaseURL string
	Version string
	Client  *http.Client
}

func NewGateway(baseURL, version string, timeout time.Duration) *Gateway {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	if version == "" {
		version = "v18.0"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		BaseURL: baseURL,
		Version: version,
		Client:  &http.Client{Timeout: timeout},
	}
}

type sendReq struct {
	Recipient sendRecipient `json:"recipient"`
	Message   sendMessage   `json:"message"`
}

type sendRecipient struct {
	ID string `json:"id"`
}

type sendMessage struct {
	Text string `json:"text"`
}

// Send performs exactly one POST; retries are the caller's decision.
func (g *Gateway) Send(ctx context.Context, kind Kind, recipientID, text, accessToken string) error {
	if !kind.Valid() {
		return errx.Delivery(&DeliveryError{Platform: kind, Body: "unsupported platform"})
	}
	if recipientID == "" {
		return errx.Delivery(&DeliveryError{Platform: kind, Body: "recipient id is required"})
	}

	b, err := json.Marshal(sendReq{
		Recipient: sendRecipient{ID: recipientID},
		Message:   sendMessage{Text: text},
	})
	if err != nil {
		return errx.Delivery(err)
	}

	endpoint := fmt.Sprintf("%s/%s/me/messages?access_token=%s",
		strings.TrimRight(g.BaseURL, "/"), g.Version, url.QueryEscape(accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return errx.Delivery(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		// url.Error embeds the request URL, which carries the token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return errx.Delivery(&DeliveryError{Platform: kind, Body: err.Error()})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return errx.Delivery(&DeliveryError{
			Platform: kind,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		})
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
