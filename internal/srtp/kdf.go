package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// Key derivation labels.
const (
	labelCipherKey byte = 0x00
	labelAuthKey   byte = 0x01
	labelSalt      byte = 0x02
)

// sessionKeys are the keys derived from a Policy for one key-derivation epoch.
type sessionKeys struct {
	block   cipher.Block
	authKey []byte
	salt    [SaltLen]byte
	epoch   uint64
}

// epochOf returns index divided by the key-derivation rate, or 0 when the
// rate is zero.
func epochOf(p Policy, index uint64) uint64 {
	if p.KeyDerivationRate == 0 {
		return 0
	}
	return index / p.KeyDerivationRate
}

func deriveSessionKeys(p Policy, epoch uint64) (*sessionKeys, error) {
	master, err := aes.NewCipher(p.MasterKey)
	if err != nil {
		return nil, err
	}
	cipherKey := prf(master, p.MasterSalt, labelCipherKey, epoch, KeyLen)
	block, err := aes.NewCipher(cipherKey)
	if err != nil {
		return nil, err
	}
	keys := &sessionKeys{
		block:   block,
		authKey: prf(master, p.MasterSalt, labelAuthKey, epoch, authKeyLen),
		epoch:   epoch,
	}
	copy(keys.salt[:], prf(master, p.MasterSalt, labelSalt, epoch, SaltLen))
	return keys, nil
}

// prf produces n pseudorandom bytes for label. The 7-byte key id (label
// followed by the 48-bit epoch) is XORed into the low end of the master salt;
// the result, shifted left 16 bits, is the counter-mode IV under the master
// key.
func prf(master cipher.Block, masterSalt []byte, label byte, epoch uint64, n int) []byte {
	var keyID [8]byte
	binary.BigEndian.PutUint64(keyID[:], epoch&0xffffffffffff)
	keyID[1] = label

	var iv [aes.BlockSize]byte
	copy(iv[:SaltLen], masterSalt)
	for i := 1; i < len(keyID); i++ {
		iv[SaltLen-len(keyID)+i] ^= keyID[i]
	}

	out := make([]byte, n)
	cipher.NewCTR(master, iv[:]).XORKeyStream(out, out)
	return out
}

// packetIV builds the counter-mode IV for one packet: the session salt
// shifted left 16 bits, XOR the SSRC shifted left 64 bits, XOR the packet
// index shifted left 16 bits.
func packetIV(salt *[SaltLen]byte, ssrc uint32, index uint64) [aes.BlockSize]byte {
	var iv [aes.BlockSize]byte
	copy(iv[:SaltLen], salt[:])

	var s [4]byte
	binary.BigEndian.PutUint32(s[:], ssrc)
	for i := range s {
		iv[4+i] ^= s[i]
	}

	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index<<16)
	for i := range idx {
		iv[8+i] ^= idx[i]
	}
	return iv
}
