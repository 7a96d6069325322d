package signaling

import (
	"testing"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/config"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "auth api key", in: `{"type":"auth","apiKey":"k"}`},
		{name: "auth token", in: `{"type":"auth","token":"t"}`},
		{name: "auth matching both", in: `{"type":"auth","apiKey":"x","token":"x"}`},
		{name: "auth conflicting", in: `{"type":"auth","apiKey":"x","token":"y"}`, wantErr: true},
		{name: "auth empty", in: `{"type":"auth"}`, wantErr: true},
		{name: "candidate", in: `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 192.0.2.1 9 typ host","sdpMid":"0"}}`},
		{name: "candidate missing", in: `{"type":"candidate"}`, wantErr: true},
		{name: "close", in: `{"type":"close"}`},
		{name: "close with extras", in: `{"type":"close","apiKey":"k"}`, wantErr: true},
		{name: "unknown type", in: `{"type":"offer"}`, wantErr: true},
		{name: "unknown field", in: `{"type":"close","sdp":{}}`, wantErr: true},
		{name: "trailing data", in: `{"type":"close"}{}`, wantErr: true},
		{name: "not json", in: `close`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseClientMessage([]byte(tt.in))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthMessageCredential(t *testing.T) {
	msg := clientMessage{Type: messageTypeAuth, APIKey: "key", Token: "tok"}
	if got := msg.credential(config.AuthModeJWT); got != "tok" {
		t.Fatalf("jwt credential=%q, want tok", got)
	}
	if got := msg.credential(config.AuthModeAPIKey); got != "key" {
		t.Fatalf("api_key credential=%q, want key", got)
	}
	if got := (clientMessage{Token: "tok"}).credential(config.AuthModeAPIKey); got != "tok" {
		t.Fatalf("fallback credential=%q, want tok", got)
	}
}

func FuzzParseClientMessage(f *testing.F) {
	f.Add([]byte(`{"type":"auth","apiKey":"k"}`))
	f.Add([]byte(`{"type":"candidate","candidate":{"candidate":""}}`))
	f.Add([]byte(`{"type":"close"}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := parseClientMessage(data)
		if err != nil {
			return
		}
		if msg.Type == messageTypeAuth && msg.credential(config.AuthModeAPIKey) == "" {
			t.Fatalf("auth message %q parsed without a credential", data)
		}
	})
}
