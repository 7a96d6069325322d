package stun

import (
	"fmt"

	"github.com/pion/randutil"
)

const (
	// iceChars is the ice-char grammar: ALPHA / DIGIT / "+" / "/".
	iceChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+/"

	// UfragLen and PasswordLen are the shortest lengths that carry the 24 and
	// 128 bits of randomness ICE requires, at 6 bits per character.
	UfragLen    = 4
	PasswordLen = 22
)

// Credentials is a short-term ICE credential pair.
type Credentials struct {
	Ufrag    string
	Password string
}

// GenerateCredentials returns a random ufrag and password.
func GenerateCredentials() (Credentials, error) {
	ufrag, err := randutil.GenerateCryptoRandomString(UfragLen, iceChars)
	if err != nil {
		return Credentials{}, fmt.Errorf("stun: generate ufrag: %w", err)
	}
	pwd, err := randutil.GenerateCryptoRandomString(PasswordLen, iceChars)
	if err != nil {
		return Credentials{}, fmt.Errorf("stun: generate password: %w", err)
	}
	return Credentials{Ufrag: ufrag, Password: pwd}, nil
}

// CandidatePriority computes an ICE candidate priority:
// 2^24*typePreference + 2^8*localPreference + (256 - componentID).
func CandidatePriority(typePreference uint8, localPreference uint16, componentID uint8) uint32 {
	return uint32(typePreference)<<24 | uint32(localPreference)<<8 | (256 - uint32(componentID))
}
