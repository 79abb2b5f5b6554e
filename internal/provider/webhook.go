package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/zidwell/backend/internal/services"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Provider-Signature"

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrBadWebhook   = errors.New("invalid webhook payload")
)

// Sign returns the signature the provider sends for body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks signature against body in constant time. An empty
// secret rejects everything.
func VerifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return ErrBadSignature
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	if !hmac.Equal(got, h.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// ParseWebhook decodes a status callback into the reference it is about and
// the outcome it reports.
func ParseWebhook(body []byte) (string, services.Outcome, error) {
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return "", services.Outcome{}, ErrBadWebhook
	}
	if r.Reference == "" {
		return "", services.Outcome{}, ErrBadWebhook
	}
	result, reason := ClassifyStatus(r.Status, r.Message)
	return r.Reference, services.Outcome{Result: result, Payload: json.RawMessage(body), Reason: reason}, nil
}
