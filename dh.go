package openid

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"math/big"
)

// defaultDHModulus and defaultDHGenerator are the standard OpenID 2.0
// Diffie-Hellman parameters, used when an
// association request omits openid.dh_modulus/openid.dh_gen.
var (
	defaultDHModulus  *big.Int
	defaultDHGenerator = big.NewInt(2)
)

func init() {
	// 1024-bit prime, the default DH modulus of OpenID 2.0
	// associations.
	defaultDHModulus, _ = new(big.Int).SetString(
		"DCF93A0B883972EC0E19989AC5A2CE310E1D37717E8D9571BB7623731866E61"+
			"EF75A2E27898B057F9891C2E27A639C3F29B60814581CD3B2CA3986D2683705"+
			"577D45C2E7E52DC81C7A171876E5CEA74B1448BFDFAF18828EFD2519F14E45E"+
			"3826634AF1949E5B535CC829A483B8A76223E5D490A257F05BDFF16F2FB22C5"+
			"83AB",
		16,
	)
}

// dhKeyPair is a Diffie-Hellman private exponent and its public value,
// computed against a given modulus/generator (defaulting to the OpenID
// 2.0 standard parameters).
type dhKeyPair struct {
	modulus   *big.Int
	generator *big.Int
	private   *big.Int
	public    *big.Int
}

func newDHKeyPair(modulus, generator *big.Int) (*dhKeyPair, error) {
	if modulus == nil {
		modulus = defaultDHModulus
	}
	if generator == nil {
		generator = defaultDHGenerator
	}
	// Private exponent in [1, modulus), matching the bit-length
	// convention every OpenID DH implementation uses: a random value
	// slightly smaller than the modulus.
	priv, err := rand.Int(rand.Reader, modulus)
	if err != nil {
		return nil, wrap(err, "generate dh private value")
	}
	if priv.Sign() == 0 {
		priv.SetInt64(1)
	}
	pub := new(big.Int).Exp(generator, priv, modulus)
	return &dhKeyPair{modulus: modulus, generator: generator, private: priv, public: pub}, nil
}

// sharedSecret computes g^(a*b) mod p given the peer's public value.
func (k *dhKeyPair) sharedSecret(peerPublic *big.Int) *big.Int {
	return new(big.Int).Exp(peerPublic, k.private, k.modulus)
}

func dhHashFor(sessionType string) (func() hash.Hash, error) {
	switch sessionType {
	case SessionDHSHA1:
		return sha1.New, nil
	case SessionDHSHA256:
		return sha256.New, nil
	default:
		return nil, errNewf("unsupported DH session type %q", sessionType)
	}
}

// btwoc is the "big-endian two's complement" octet encoding OpenID's DH
// exchange uses for big integers: big-endian bytes, with a leading zero
// byte prefixed whenever the high bit of the first byte would otherwise
// be set (so the value is never mistaken for negative).
func btwoc(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) == 0 {
		return []byte{0}
	}
	if b[0]&0x80 != 0 {
		return append([]byte{0}, b...)
	}
	return b
}

// maskMACKey XORs the MAC key with H(shared secret) to produce
// enc_mac_key, or unmasks it given the same inputs — the operation is
// its own inverse.
func maskMACKey(sessionType string, sharedSecret *big.Int, macKey []byte) ([]byte, error) {
	hf, err := dhHashFor(sessionType)
	if err != nil {
		return nil, err
	}
	h := hf()
	h.Write(btwoc(sharedSecret))
	digest := h.Sum(nil)
	if len(digest) != len(macKey) {
		return nil, errNewf("mac key length %d does not match digest length %d", len(macKey), len(digest))
	}
	out := make([]byte, len(macKey))
	for i := range macKey {
		out[i] = macKey[i] ^ digest[i]
	}
	return out, nil
}

func encodeBigIntB64(n *big.Int) string {
	return base64.StdEncoding.EncodeToString(btwoc(n))
}

func decodeBigIntB64(s string) (*big.Int, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, wrap(err, "decode base64 dh value")
	}
	return new(big.Int).SetBytes(b), nil
}
