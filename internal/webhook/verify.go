package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/suPer8Hu/autoreply-agent/internal/errx"
)

const SignatureHeader = "X-Hub-Signature-256"

// Verify answers the subscription handshake: the challenge is echoed back
// only for mode "subscribe" with the configured token.
func Verify(mode, token, challenge, secret string) (string, error) {
	if mode != "subscribe" || secret == "" {
		return "", errx.Auth("Verification failed")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return "", errx.Auth("Verification failed")
	}
	return challenge, nil
}

// VerifySignature checks a "sha256=<hex>" HMAC of body keyed by appSecret.
func VerifySignature(body []byte, header, appSecret string) bool {
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the header value VerifySignature accepts.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
