// Package srtp encrypts media packets for peers that have completed the
// security handshake, using the AES-128 counter mode / HMAC-SHA1-80 profile.
package srtp

import (
	"errors"
	"fmt"
	"math/bits"
)

const (
	// KeyLen and SaltLen are the master key and master salt sizes.
	KeyLen  = 16
	SaltLen = 14

	// TagLen is the truncated authentication tag appended to every packet.
	TagLen = 10

	// KeyingMaterialLen is how many bytes to export from the handshake: a key
	// and a salt for each direction.
	KeyingMaterialLen = 2 * (KeyLen + SaltLen)

	// ExporterLabel is the keying-material exporter label for this profile.
	ExporterLabel = "EXTRACTOR-dtls_srtp"

	authKeyLen = 20

	maxKeyDerivationRate = 1 << 24
)

var (
	ErrMalformedPacket       = errors.New("srtp: malformed packet")
	ErrInvalidKeyingMaterial = errors.New("srtp: invalid keying material")
	// ErrIndexReused means protecting the packet would reuse a packet index,
	// and with it the keystream, for different content.
	ErrIndexReused = errors.New("srtp: packet index already used")
)

// Policy is the master secret for one direction of one peer.
type Policy struct {
	MasterKey  []byte
	MasterSalt []byte

	// KeyDerivationRate, when non-zero, re-derives session keys every
	// KeyDerivationRate packet indices. It must be a power of two no larger
	// than 2^24. Zero derives session keys once.
	KeyDerivationRate uint64
}

// Validate checks key and salt sizes and the key-derivation rate.
func (p Policy) Validate() error {
	if len(p.MasterKey) != KeyLen {
		return fmt.Errorf("%w: master key is %d bytes, want %d", ErrInvalidKeyingMaterial, len(p.MasterKey), KeyLen)
	}
	if len(p.MasterSalt) != SaltLen {
		return fmt.Errorf("%w: master salt is %d bytes, want %d", ErrInvalidKeyingMaterial, len(p.MasterSalt), SaltLen)
	}
	if r := p.KeyDerivationRate; r != 0 && (r > maxKeyDerivationRate || bits.OnesCount64(r) != 1) {
		return fmt.Errorf("%w: key derivation rate %d", ErrInvalidKeyingMaterial, r)
	}
	return nil
}

// PoliciesFromKeyingMaterial splits exported keying material, laid out as
// client key, server key, client salt, server salt, into the client's and the
// server's policies. The relay encrypts with the server policy.
func PoliciesFromKeyingMaterial(km []byte) (client, server Policy, err error) {
	if len(km) != KeyingMaterialLen {
		return Policy{}, Policy{}, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKeyingMaterial, len(km), KeyingMaterialLen)
	}
	km = append([]byte(nil), km...)
	client = Policy{MasterKey: km[0:KeyLen:KeyLen]}
	server = Policy{MasterKey: km[KeyLen : 2*KeyLen : 2*KeyLen]}
	client.MasterSalt = km[2*KeyLen : 2*KeyLen+SaltLen : 2*KeyLen+SaltLen]
	server.MasterSalt = km[2*KeyLen+SaltLen:]
	return client, server, nil
}

// ServerPolicy returns the relay's half of exported keying material.
func ServerPolicy(km []byte) (Policy, error) {
	_, server, err := PoliciesFromKeyingMaterial(km)
	return server, err
}
