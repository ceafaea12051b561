package openid

import (
	"encoding/base64"
	"math/big"
	"regexp"
	"time"
)

// Association assoc_type values.
const (
	AssocHMACSHA1   = "HMAC-SHA1"
	AssocHMACSHA256 = "HMAC-SHA256"
)

// Association session_type values.
const (
	SessionNoEncryption = "no-encryption"
	SessionDHSHA1       = "DH-SHA1"
	SessionDHSHA256     = "DH-SHA256"
)

// assocHandleRE enforces a printable-ASCII-only handle grammar
// (\x21-\x7E), 1-255 bytes, rejecting control bytes and non-ASCII.
var assocHandleRE = regexp.MustCompile(`^[\x21-\x7E]{1,255}$`)

// Association holds the DH/HMAC material negotiated with (or assumed
// against) an OP. It is a tagged variant over SessionType: for
// SessionNoEncryption only MACKey is meaningful and the DH fields are
// unset; for the DH-* session types EncMACKey/DH* are set as well, and
// MACKey is derived from them.
type Association struct {
	AssocType   string
	SessionType string
	AssocHandle string
	Expires     time.Time

	// MACKey is the raw (decoded) shared secret, populated directly for
	// SessionNoEncryption or derived by unmasking EncMACKey for DH-*.
	MACKey []byte

	// EncMACKey is the encrypted MAC key as sent/received over the wire
	// (only meaningful for DH-* session types).
	EncMACKey []byte

	DHConsumerPublic *big.Int
	DHServerPublic   *big.Int
	dh               *dhKeyPair
}

// Encrypted reports whether a's session type carries the MAC key
// encrypted under a DH-derived shared secret, i.e. whether it computes
// an encryption posture rather than sending mac_key in the clear.
func (a *Association) Encrypted() bool {
	return a.SessionType != SessionNoEncryption
}

// Valid reports whether a's handle is well-formed and it has not
// expired as of now.
func (a *Association) Valid(now time.Time) error {
	if !assocHandleRE.MatchString(a.AssocHandle) {
		return errNewf("assoc_handle %q does not match required shape", a.AssocHandle)
	}
	if !a.Expires.After(now) {
		return errNewf("association %q expired at %v", a.AssocHandle, a.Expires)
	}
	return nil
}

// resolveDH completes the DH exchange given the OP's server public value
// and encrypted MAC key, deriving the plaintext MACKey. Only valid for
// DH-* session types.
func (a *Association) resolveDH(serverPublicB64, encMacKeyB64 string) error {
	serverPublic, err := decodeBigIntB64(serverPublicB64)
	if err != nil {
		return wrap(err, "decode dh_server_public")
	}
	encMacKey, err := base64.StdEncoding.DecodeString(encMacKeyB64)
	if err != nil {
		return wrap(err, "decode enc_mac_key")
	}
	a.DHServerPublic = serverPublic
	a.EncMACKey = encMacKey

	shared := a.dh.sharedSecret(serverPublic)
	macKey, err := maskMACKey(a.SessionType, shared, encMacKey)
	if err != nil {
		return wrap(err, "unmask mac key")
	}
	a.MACKey = macKey
	return nil
}
