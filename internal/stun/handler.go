package stun

import (
	"fmt"
	"net/netip"
	"strings"
)

// Reply is what the handler wants sent back to the peer. A zero Reply means
// nothing is sent.
type Reply struct {
	// Received is the type of the message that was handled.
	Received MessageType
	Datagram []byte
	// Unsigned is set when the request named a username the credential store
	// does not know; the response goes out without message integrity and the
	// peer's verification of it will fail.
	Unsigned bool
}

// Handler answers connectivity checks arriving on the media socket.
type Handler struct {
	Credentials CredentialStore
	// Software, when set, is advertised on responses.
	Software string
}

// Handle processes one datagram from peer. Requests are answered with a
// success response; success responses (to our own checks) are acknowledged
// with an indication. Other message types are ignored.
func (h *Handler) Handle(b []byte, peer netip.AddrPort) (Reply, error) {
	msg, err := Decode(b)
	if err != nil {
		return Reply{}, err
	}
	if msg.HasFingerprint() {
		if err := msg.CheckFingerprint(); err != nil {
			return Reply{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}

	var reply Reply
	switch msg.Type {
	case BindingRequest:
		if reply, err = h.bindingResponse(&msg, peer); err != nil {
			return Reply{}, err
		}
	case BindingSuccessResponse:
		if reply.Datagram, err = Encode(Message{Type: BindingIndication, TransactionID: msg.TransactionID}, nil); err != nil {
			return Reply{}, err
		}
	}
	reply.Received = msg.Type
	return reply, nil
}

func (h *Handler) bindingResponse(req *Message, peer netip.AddrPort) (Reply, error) {
	resp := Message{
		Type:          BindingSuccessResponse,
		TransactionID: req.TransactionID,
		Attributes:    []Attribute{XORMappedAddress{Addr: peer}},
	}

	username, hasUsername := req.Username()
	if !hasUsername {
		out, err := Encode(h.withSoftware(resp), nil)
		return Reply{Datagram: out}, err
	}
	resp.Attributes = append(resp.Attributes, username)

	var key []byte
	if h.Credentials != nil {
		if pwd, ok := h.Credentials.GetPassword(LocalFragment(string(username))); ok {
			var err error
			if key, err = IntegrityKey(pwd); err != nil {
				return Reply{}, err
			}
		}
	}
	if key == nil {
		out, err := Encode(h.withSoftware(resp), nil)
		return Reply{Datagram: out, Unsigned: true}, err
	}

	if req.HasIntegrity() {
		if err := req.CheckIntegrity(key); err != nil {
			return Reply{}, err
		}
	}
	out, err := Encode(h.withSoftware(resp), key)
	return Reply{Datagram: out}, err
}

func (h *Handler) withSoftware(m Message) Message {
	if h.Software != "" {
		m.Attributes = append(m.Attributes, Software(h.Software))
	}
	return m
}

// LocalFragment returns the part of a connectivity-check username before the
// first colon: the ufrag of the agent receiving the check.
func LocalFragment(username string) string {
	local, _, _ := strings.Cut(username, ":")
	return local
}
