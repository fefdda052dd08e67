package dispatch

import (
	"testing"
	"time"
)

func TestGenerateSignature(t *testing.T) {
	tests := []struct {
		name        string
		secret      string
		timestamp   int64
		payloadJSON []byte
	}{
		{
			name:        "basic signature",
			secret:      "whsec_test123",
			timestamp:   1736600000,
			payloadJSON: []byte(`{"event_name":"Purchase","event_id":"123"}`),
		},
		{
			name:        "empty payload",
			secret:      "secret",
			timestamp:   1000000000,
			payloadJSON: []byte(`{}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := GenerateSignature(tt.secret, tt.timestamp, tt.payloadJSON)

			if len(sig) != 64 {
				t.Errorf("signature length = %d, want 64", len(sig))
			}

			if sig2 := GenerateSignature(tt.secret, tt.timestamp, tt.payloadJSON); sig != sig2 {
				t.Error("signature is not deterministic")
			}

			if sig3 := GenerateSignature(tt.secret, tt.timestamp+1, tt.payloadJSON); sig == sig3 {
				t.Error("different timestamp should produce different signature")
			}

			if sig4 := GenerateSignature(tt.secret+"x", tt.timestamp, tt.payloadJSON); sig == sig4 {
				t.Error("different secret should produce different signature")
			}
		})
	}
}

func TestValidateSignature(t *testing.T) {
	secret := "test_secret"
	payload := []byte(`{"event_name":"Lead"}`)
	now := time.Unix(1736600000, 0)

	tests := []struct {
		name      string
		timestamp int64
		signature func(ts int64) string
		wantErr   error
	}{
		{
			name:      "valid",
			timestamp: now.Unix(),
			signature: func(ts int64) string { return GenerateSignature(secret, ts, payload) },
		},
		{
			name:      "tampered",
			timestamp: now.Unix(),
			signature: func(ts int64) string { return GenerateSignature("other", ts, payload) },
			wantErr:   ErrInvalidSignature,
		},
		{
			name:      "too old",
			timestamp: now.Add(-10 * time.Minute).Unix(),
			signature: func(ts int64) string { return GenerateSignature(secret, ts, payload) },
			wantErr:   ErrReplayWindowExceeded,
		},
		{
			name:      "from the future",
			timestamp: now.Add(10 * time.Minute).Unix(),
			signature: func(ts int64) string { return GenerateSignature(secret, ts, payload) },
			wantErr:   ErrReplayWindowExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignature(secret, tt.signature(tt.timestamp), tt.timestamp, payload, now, DefaultReplayWindow)
			if err != tt.wantErr {
				t.Errorf("ValidateSignature() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
