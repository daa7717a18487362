package infra

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSignatureMissing = errors.New("webhook signature missing")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// SignatureVerifier checks the gateway's x-signature header: "ts=<ts>,v1=<hex>"
// where v1 is HMAC-SHA256 over "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

// Enabled is false when no secret is configured.
func (v *SignatureVerifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

func (v *SignatureVerifier) Verify(header, requestID, dataID string) error {
	if !v.Enabled() {
		return nil
	}
	if header == "" || requestID == "" {
		return ErrSignatureMissing
	}
	ts, sig := parseSignatureHeader(header)
	if ts == "" || sig == "" {
		return fmt.Errorf("%w: malformed header", ErrSignatureInvalid)
	}
	expected := v.Sign(dataID, requestID, ts)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the hex digest the gateway would send for these values.
func (v *SignatureVerifier) Sign(dataID, requestID, ts string) string {
	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = val
		case "v1":
			v1 = val
		}
	}
	return ts, v1
}
