package openid

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"hash"
	"strings"
)

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func macHashFor(assocType string) (func() hash.Hash, error) {
	switch assocType {
	case AssocHMACSHA1:
		return sha1.New, nil
	case AssocHMACSHA256:
		return sha256.New, nil
	default:
		return nil, errNewf("unsupported assoc_type %q", assocType)
	}
}

// signedBody builds the canonical key-value body HMAC is computed over:
// for each name in signed (in order), a line "name:value\n" where value
// comes from params (prefixed map). Missing fields referenced by signed
// are an error.
func signedBody(params map[string]string, signed []string) (string, error) {
	var b strings.Builder
	for _, name := range signed {
		v, ok := params[prefix+name]
		if !ok {
			return "", errNewf("signed field %q missing from params", name)
		}
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// ComputeSignature computes the base64-encoded HMAC over the fields
// named by signed (comma-separated openid.signed value already split),
// keyed with macKey.
func ComputeSignature(assocType string, macKey []byte, params map[string]string, signed []string) (string, error) {
	hf, err := macHashFor(assocType)
	if err != nil {
		return "", err
	}
	body, err := signedBody(params, signed)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, macKey)
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the HMAC and compares it constant-time
// against sig (base64). An unknown assoc_type, a signed field that's
// missing from params, or a mismatch all return a non-nil error
// describing which (ErrSignatureMismatch for a mismatch); a match
// returns nil.
func VerifySignature(assocType string, macKey []byte, params map[string]string, signedCSV, sig string) error {
	signed := strings.Split(signedCSV, ",")
	computed, err := ComputeSignature(assocType, macKey, params, signed)
	if err != nil {
		return err
	}
	want, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return wrap(err, "decode openid.sig")
	}
	got, err := base64.StdEncoding.DecodeString(computed)
	if err != nil {
		return wrap(err, "decode computed signature")
	}
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}
