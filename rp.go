package openid

import (
	"context"
	"strconv"
	"time"
)

// HTTPFetcher performs an HTTP request on behalf of the RP. params is
// form-encoded as application/x-www-form-urlencoded for POST; GET is
// used only by discovery handlers, which may ignore params. The RP
// blocks on this call but never mutates its own state concurrently with
// an in-flight fetch.
type HTTPFetcher func(ctx context.Context, method, url string, params map[string]string) (status int, body string, headers map[string][]string, err error)

// StoreFunc persists an association's fields until expiry.
type StoreFunc func(ctx context.Context, handle string, fields map[string]string) error

// FindFunc looks up a stored association's fields by handle. The ok
// return is false when the handle is unknown; a non-nil error indicates
// a collaborator failure, not merely "not found".
type FindFunc func(ctx context.Context, handle string) (fields map[string]string, ok bool, err error)

// RemoveFunc best-effort removes a stored association.
type RemoveFunc func(ctx context.Context, handle string) error

// OutcomeKind enumerates the outcomes Authenticate can report.
type OutcomeKind string

const (
	OutcomeRedirect     OutcomeKind = "redirect"
	OutcomeVerified     OutcomeKind = "verified"
	OutcomeCancel       OutcomeKind = "cancel"
	OutcomeError        OutcomeKind = "error"
	OutcomeSetupNeeded  OutcomeKind = "setup_needed"
	OutcomeUserSetupURL OutcomeKind = "user_setup_url"
	OutcomeNull         OutcomeKind = "null"
)

// Outcome is the result of one authenticate call.
type Outcome struct {
	Kind OutcomeKind

	// Populated for OutcomeRedirect.
	RedirectURL    string
	RedirectParams map[string]string

	// Populated for OutcomeVerified.
	ClaimedID string

	// Populated for OutcomeError (and carried, not leaked to the OP).
	Err error
}

const ns20 = "http://specs.openid.net/auth/2.0"

// RP holds mutable protocol state for one authentication exchange. It
// is not safe for concurrent use from multiple goroutines — create one
// per exchange, or call Clear between reuses.
type RP struct {
	// ReturnTo is the RP URL the OP will redirect back to. Required
	// before Authenticate; its absence is a programmer error.
	ReturnTo string

	// Realm overrides the trust_root/realm value otherwise defaulted
	// to ReturnTo. Left empty, realm and return_to are the same value;
	// set it explicitly when the trust root needs to cover more than
	// the single return_to URL.
	Realm string

	// AssocType/SessionType are the association parameters the RP
	// will offer on the next associate call; they may be overwritten
	// once by an OP's unsupported-type suggestion.
	AssocType   string
	SessionType string

	Discovery   *Discovery
	Association *Association
	LastError   string

	associateRetryUsed bool

	DiscoveryChain []DiscoveryHandler

	Fetch  HTTPFetcher
	Store  StoreFunc
	Find   FindFunc
	Remove RemoveFunc

	// Now is injected for deterministic testing; defaults to time.Now
	// when nil.
	Now func() time.Time

	Debug bool
}

// New creates an RP configured with fetch as its HTTP collaborator and
// the default Yadis-then-HTML discovery chain. Store/Find/Remove are
// left nil (association negotiation is then skipped) until the caller
// assigns them, e.g. from the store package.
func New(returnTo string, fetch HTTPFetcher) *RP {
	return &RP{
		ReturnTo:       returnTo,
		AssocType:      AssocHMACSHA256,
		SessionType:    SessionDHSHA256,
		DiscoveryChain: DefaultDiscoveryChain(fetch),
		Fetch:          fetch,
	}
}

// Clear resets per-exchange state so the RP can be reused for another
// exchange. ReturnTo/Realm/collaborators survive.
func (rp *RP) Clear() {
	rp.Discovery = nil
	rp.Association = nil
	rp.LastError = ""
	rp.associateRetryUsed = false
}

func (rp *RP) now() time.Time {
	if rp.Now != nil {
		return rp.Now()
	}
	return time.Now()
}

func (rp *RP) realm() string {
	if rp.Realm != "" {
		return rp.Realm
	}
	return rp.ReturnTo
}

// Authenticate drives one exchange. params is either a user-initiated
// request (carrying openid_identifier) or an OP callback (carrying
// openid.mode).
func (rp *RP) Authenticate(ctx context.Context, params *Parameters) (*Outcome, error) {
	if rp.ReturnTo == "" {
		panic(ErrNoReturnTo)
	}

	if identRaw, ok := params.Get("openid_identifier"); ok {
		return rp.authenticateUserAgent(ctx, identRaw)
	}

	if mode, ok := params.Get("mode"); ok {
		return rp.authenticateCallback(ctx, mode, params)
	}

	return &Outcome{Kind: OutcomeNull}, nil
}

func (rp *RP) authenticateUserAgent(ctx context.Context, identRaw string) (*Outcome, error) {
	id, err := NormalizeIdentifier(identRaw)
	if err != nil {
		rp.LastError = err.Error()
		return &Outcome{Kind: OutcomeError, Err: wrap(err, "normalize identifier")}, nil
	}

	d, err := discover(ctx, rp, id, rp.DiscoveryChain)
	if err != nil {
		rp.LastError = err.Error()
		return &Outcome{Kind: OutcomeError, Err: err}, nil
	}
	rp.Discovery = d

	// Association is optional: failures here are logged into LastError
	// and the redirect proceeds without a handle.
	switch res, assocErr := rp.associate(ctx, d.OPEndpoint); res {
	case associateOK:
		// rp.Association already set by associate.
	case associateSkip:
		rp.Association = nil
	case associateError:
		rp.LastError = assocErr.Error()
		rp.Association = nil
	}

	return rp.buildRedirect(), nil
}

func (rp *RP) authenticateCallback(ctx context.Context, mode string, params *Parameters) (*Outcome, error) {
	switch mode {
	case "cancel":
		return &Outcome{Kind: OutcomeCancel}, nil
	case "error":
		reason, _ := params.Get("error")
		return &Outcome{Kind: OutcomeError, Err: errNewf("%s", reason)}, nil
	case "setup_needed":
		if params.GetDefault("ns", "") == ns20 {
			return &Outcome{Kind: OutcomeSetupNeeded}, nil
		}
		return &Outcome{Kind: OutcomeError, Err: ErrUnknownMode}, nil
	case "user_setup_url":
		if params.GetDefault("ns", "") != ns20 {
			return &Outcome{Kind: OutcomeUserSetupURL}, nil
		}
		return &Outcome{Kind: OutcomeError, Err: ErrUnknownMode}, nil
	case "id_res":
		return rp.verify(ctx, params)
	default:
		return &Outcome{Kind: OutcomeError, Err: wrapf(ErrUnknownMode, "mode %q", mode)}, nil
	}
}

// --- redirect construction ---

func (rp *RP) buildRedirect() *Outcome {
	d := rp.Discovery
	p := NewParameters()
	p.Set("mode", "checkid_setup")
	p.Set("identity", d.OPLocalID)
	p.Set("return_to", rp.ReturnTo)

	if d.ProtocolVersion == Protocol20 {
		p.Set("ns", ns20)
		p.Set("claimed_id", d.ClaimedID)
		p.Set("realm", rp.realm())
	} else {
		p.Set("trust_root", rp.realm())
	}

	if rp.Association != nil {
		p.Set("assoc_handle", rp.Association.AssocHandle)
	}

	return &Outcome{
		Kind:           OutcomeRedirect,
		RedirectURL:    d.OPEndpoint,
		RedirectParams: p.ToMapPrefixed(),
	}
}

// --- association negotiator ---

type associateResult int

const (
	associateOK associateResult = iota
	associateSkip
	associateError
)

func (rp *RP) associate(ctx context.Context, opEndpoint string) (associateResult, error) {
	if rp.Store == nil {
		return associateSkip, nil
	}
	return rp.associateAttempt(ctx, opEndpoint, rp.AssocType, rp.SessionType)
}

func (rp *RP) associateAttempt(ctx context.Context, opEndpoint, assocType, sessionType string) (associateResult, error) {
	var dh *dhKeyPair
	req := NewParameters()
	req.Set("ns", ns20)
	req.Set("mode", "associate")
	req.Set("assoc_type", assocType)
	req.Set("session_type", sessionType)

	if sessionType != SessionNoEncryption {
		var err error
		dh, err = newDHKeyPair(nil, nil)
		if err != nil {
			return associateError, err
		}
		req.Set("dh_consumer_public", encodeBigIntB64(dh.public))
	}

	status, body, _, err := rp.Fetch(ctx, "POST", opEndpoint, req.ToMapPrefixed())
	if err != nil {
		return associateError, wrapf(ErrTransport, "associate request: %v", err)
	}
	if status != 200 {
		return associateError, errNewf("associate: OP returned status %d", status)
	}

	resp := ParseParameters(body)
	if ns, _ := resp.Get("ns"); ns != ns20 {
		return associateError, wrap(ErrWrongNamespace, "associate response")
	}

	if errMsg, hasErr := resp.Get("error"); hasErr {
		errCode, _ := resp.Get("error_code")
		sugSession, hasSession := resp.Get("session_type")
		sugAssoc, hasAssoc := resp.Get("assoc_type")
		if errCode == "unsupported-type" && hasSession && hasAssoc && !rp.associateRetryUsed {
			rp.associateRetryUsed = true
			rp.SessionType = sugSession
			rp.AssocType = sugAssoc
			return rp.associateAttempt(ctx, opEndpoint, sugAssoc, sugSession)
		}
		return associateError, wrapf(ErrAssociationInvalid, "OP returned error: %s", errMsg)
	}

	handle, hasHandle := resp.Get("assoc_handle")
	gotSession, hasSession := resp.Get("session_type")
	gotAssoc, hasAssoc := resp.Get("assoc_type")
	expiresIn, hasExpires := resp.Get("expires_in")
	if !hasHandle || !hasSession || !hasAssoc || !hasExpires {
		return associateError, wrap(ErrAssociationInvalid, "missing required fields")
	}
	if gotSession != sessionType || gotAssoc != assocType {
		return associateError, wrap(ErrAssociationInvalid, "echoed assoc_type/session_type mismatch")
	}
	if !isDigits(expiresIn) {
		return associateError, wrapf(ErrAssociationInvalid, "malformed expires_in %q", expiresIn)
	}

	assoc := &Association{
		AssocType:   gotAssoc,
		SessionType: gotSession,
		AssocHandle: handle,
		dh:          dh,
	}

	if assoc.Encrypted() {
		serverPublic, hasServerPub := resp.Get("dh_server_public")
		encMAC, hasEncMAC := resp.Get("enc_mac_key")
		if !hasServerPub || !hasEncMAC {
			return associateError, wrap(ErrAssociationInvalid, "missing dh_server_public/enc_mac_key")
		}
		if err := assoc.resolveDH(serverPublic, encMAC); err != nil {
			return associateError, err
		}
	} else {
		macKeyB64, hasMAC := resp.Get("mac_key")
		if !hasMAC {
			return associateError, wrap(ErrAssociationInvalid, "missing mac_key")
		}
		macKey, err := decodeBase64(macKeyB64)
		if err != nil {
			return associateError, wrap(err, "decode mac_key")
		}
		assoc.MACKey = macKey
	}

	secs, _ := strconv.Atoi(expiresIn)
	assoc.Expires = rp.now().Add(time.Duration(secs) * time.Second)
	if !assocHandleRE.MatchString(assoc.AssocHandle) {
		return associateError, wrapf(ErrAssociationInvalid, "assoc_handle %q has invalid shape", assoc.AssocHandle)
	}

	if err := rp.Store(ctx, assoc.AssocHandle, associationFields(assoc)); err != nil {
		return associateError, wrap(err, "store association")
	}

	rp.Association = assoc
	return associateOK, nil
}

func associationFields(a *Association) map[string]string {
	f := map[string]string{
		"assoc_type":   a.AssocType,
		"session_type": a.SessionType,
		"assoc_handle": a.AssocHandle,
		"expires":      strconv.FormatInt(a.Expires.Unix(), 10),
		"mac_key":      encodeBase64(a.MACKey),
	}
	return f
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
