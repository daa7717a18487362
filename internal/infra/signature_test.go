package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignatureVerifier(t *testing.T) {
	v := NewSignatureVerifier("s3cret")
	valid := "ts=1700000000,v1=" + v.Sign("12345", "req-1", "1700000000")

	tests := []struct {
		name      string
		header    string
		requestID string
		dataID    string
		wantErr   error
	}{
		{"valid", valid, "req-1", "12345", nil},
		{"missing header", "", "req-1", "12345", ErrSignatureMissing},
		{"missing request id", valid, "", "12345", ErrSignatureMissing},
		{"other payment", valid, "req-1", "99999", ErrSignatureInvalid},
		{"other request", valid, "req-2", "12345", ErrSignatureInvalid},
		{"malformed", "garbage", "req-1", "12345", ErrSignatureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.header, tt.requestID, tt.dataID)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSignatureVerifier_DisabledWithoutSecret(t *testing.T) {
	v := NewSignatureVerifier("")

	assert.False(t, v.Enabled())
	assert.NoError(t, v.Verify("", "", "1"))
}
