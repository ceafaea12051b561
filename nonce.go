package openid

import (
	"regexp"
	"strconv"
	"time"
)

// freshnessWindow is the maximum allowed clock skew between a response
// nonce's timestamp and now.
const freshnessWindow = 2 * time.Hour

var nonceRE = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})T(\d{2}):(\d{2}):(\d{2})Z(.*)$`)

// Nonce is a parsed OP response_nonce: an ISO-8601 UTC timestamp plus an
// arbitrary trailing suffix used for replay-store keying.
type Nonce struct {
	Epoch  int64
	Suffix string
}

// ParseNonce parses s. Replay-store keying on (epoch, suffix,
// op_endpoint) is delegated to the external store; this only parses and
// exposes the value.
func ParseNonce(s string) (*Nonce, error) {
	m := nonceRE.FindStringSubmatch(s)
	if m == nil {
		return nil, errNewf("nonce %q does not match expected format", s)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	min, _ := strconv.Atoi(m[5])
	sec, _ := strconv.Atoi(m[6])
	t := time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
	return &Nonce{Epoch: t.Unix(), Suffix: m[7]}, nil
}

// Fresh reports whether n's timestamp is within freshnessWindow of now.
func (n *Nonce) Fresh(now time.Time) bool {
	delta := now.Unix() - n.Epoch
	if delta < 0 {
		delta = -delta
	}
	return delta <= int64(freshnessWindow/time.Second)
}

// CheckNonce parses and freshness-checks s against now in one step, the
// shape the verification pipeline actually calls.
func CheckNonce(s string, now time.Time) (*Nonce, error) {
	n, err := ParseNonce(s)
	if err != nil {
		return nil, wrap(ErrStaleNonce, err.Error())
	}
	if !n.Fresh(now) {
		return nil, wrapf(ErrStaleNonce, "nonce epoch %d outside freshness window of %v", n.Epoch, now)
	}
	return n, nil
}
