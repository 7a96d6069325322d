package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/camera-webrtc-relay/internal/config"
)

type messageType string

const (
	messageTypeAuth      messageType = "auth"
	messageTypeSession   messageType = "session"
	messageTypeCandidate messageType = "candidate"
	messageTypeClose     messageType = "close"
	messageTypeError     messageType = "error"
)

// clientMessage is anything the browser sends.
type clientMessage struct {
	Type messageType `json:"type"`

	APIKey string `json:"apiKey,omitempty"`
	Token  string `json:"token,omitempty"`

	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg clientMessage
	if err := dec.Decode(&msg); err != nil {
		return clientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return clientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.validate(); err != nil {
		return clientMessage{}, err
	}
	return msg, nil
}

func (m clientMessage) validate() error {
	switch m.Type {
	case messageTypeAuth:
		if m.APIKey == "" && m.Token == "" {
			return fmt.Errorf("auth message missing apiKey/token")
		}
		if m.APIKey != "" && m.Token != "" && m.APIKey != m.Token {
			return fmt.Errorf("auth message must not include both apiKey and token unless they match")
		}
		if m.Candidate != nil {
			return fmt.Errorf("auth message has unexpected fields")
		}
	case messageTypeCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("candidate message missing candidate")
		}
		if m.APIKey != "" || m.Token != "" {
			return fmt.Errorf("candidate message has unexpected fields")
		}
	case messageTypeClose:
		if m.Candidate != nil || m.APIKey != "" || m.Token != "" {
			return fmt.Errorf("close message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// credential picks the credential an auth message carries for mode.
func (m clientMessage) credential(mode config.AuthMode) string {
	if mode == config.AuthModeJWT && m.Token != "" {
		return m.Token
	}
	if m.APIKey != "" {
		return m.APIKey
	}
	return m.Token
}

// sessionMessage tells the browser how to reach the media socket.
type sessionMessage struct {
	Type          messageType               `json:"type"`
	SessionID     string                    `json:"sessionId"`
	ICEParameters webrtc.ICEParameters      `json:"iceParameters"`
	Fingerprint   webrtc.DTLSFingerprint    `json:"fingerprint"`
	Candidates    []webrtc.ICECandidateInit `json:"candidates"`
	ICEServers    []webrtc.ICEServer        `json:"iceServers"`
}

type errorMessage struct {
	Type    messageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}
