package openid

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOPEndpoint = "https://op.example/srv"
const testReturnTo = "http://rp.example/cb"
const testClaimedID = "http://user.example/"

func discoveryXRDS() string {
	return `<?xml version="1.0"?>
<XRDS><XRD><Service>
<Type>http://specs.openid.net/auth/2.0/signon</Type>
<URI>` + testOPEndpoint + `</URI>
</Service></XRD></XRDS>`
}

type memStore struct {
	data map[string]map[string]string
}

func newMemStore() *memStore { return &memStore{data: map[string]map[string]string{}} }

func (s *memStore) Store(_ context.Context, handle string, fields map[string]string) error {
	s.data[handle] = fields
	return nil
}
func (s *memStore) Find(_ context.Context, handle string) (map[string]string, bool, error) {
	f, ok := s.data[handle]
	return f, ok, nil
}
func (s *memStore) Remove(_ context.Context, handle string) error {
	delete(s.data, handle)
	return nil
}

// --- association negotiation with DH-SHA256 succeeds end to end ---

func TestAuthenticateWithAssociation(t *testing.T) {
	var storeCalls int
	st := newMemStore()

	fetch := func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		switch {
		case method == "GET" && url == testClaimedID:
			return 200, discoveryXRDS(), map[string][]string{"Content-Type": {"application/xrds+xml"}}, nil
		case method == "POST" && url == testOPEndpoint && params["openid.mode"] == "associate":
			consumerPub, err := decodeBigIntB64(params["openid.dh_consumer_public"])
			require.NoError(t, err)
			server, err := newDHKeyPair(nil, nil)
			require.NoError(t, err)
			shared := server.sharedSecret(consumerPub)
			macKey := make([]byte, 32)
			for i := range macKey {
				macKey[i] = byte(i + 1)
			}
			enc, err := maskMACKey(SessionDHSHA256, shared, macKey)
			require.NoError(t, err)

			resp := NewParameters()
			resp.Set("ns", ns20)
			resp.Set("assoc_handle", "h1")
			resp.Set("session_type", SessionDHSHA256)
			resp.Set("assoc_type", AssocHMACSHA256)
			resp.Set("expires_in", "3600")
			resp.Set("dh_server_public", encodeBigIntB64(server.public))
			resp.Set("enc_mac_key", encodeBase64(enc))
			return 200, resp.ToString(), nil, nil
		}
		return 500, "", nil, nil
	}

	rp := New(testReturnTo, fetch)
	rp.Store = func(ctx context.Context, handle string, fields map[string]string) error {
		storeCalls++
		return st.Store(ctx, handle, fields)
	}
	rp.Find = st.Find
	rp.Remove = st.Remove

	params := NewParameters()
	params.Set("openid_identifier", testClaimedID)

	outcome, err := rp.Authenticate(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirect, outcome.Kind)
	assert.Equal(t, 1, storeCalls)
	assert.Equal(t, testOPEndpoint, outcome.RedirectURL)
	assert.Equal(t, "checkid_setup", outcome.RedirectParams["openid.mode"])
	assert.Equal(t, ns20, outcome.RedirectParams["openid.ns"])
	assert.Equal(t, testClaimedID, outcome.RedirectParams["openid.claimed_id"])
	assert.Equal(t, testClaimedID, outcome.RedirectParams["openid.identity"])
	assert.Equal(t, testReturnTo, outcome.RedirectParams["openid.return_to"])
	assert.Equal(t, testReturnTo, outcome.RedirectParams["openid.realm"])
	assert.Equal(t, "h1", outcome.RedirectParams["openid.assoc_handle"])
}

// --- an OP's unsupported-type suggestion is retried at most once ---

func TestAssociateUnsupportedTypeRetry(t *testing.T) {
	var associateAttempts int

	fetch := func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		if method == "POST" && params["openid.mode"] == "associate" {
			associateAttempts++
			if params["openid.session_type"] == SessionDHSHA256 {
				resp := NewParameters()
				resp.Set("ns", ns20)
				resp.Set("error", "session type not supported")
				resp.Set("error_code", "unsupported-type")
				resp.Set("session_type", SessionDHSHA1)
				resp.Set("assoc_type", AssocHMACSHA1)
				return 200, resp.ToString(), nil, nil
			}
			// second attempt: DH-SHA1 as suggested, answered with a DH-SHA1 encrypted MAC key
			consumerPub, _ := decodeBigIntB64(params["openid.dh_consumer_public"])
			server, _ := newDHKeyPair(nil, nil)
			shared := server.sharedSecret(consumerPub)
			macKey := make([]byte, 20) // sha1 digest size
			enc, _ := maskMACKey(SessionDHSHA1, shared, macKey)

			resp := NewParameters()
			resp.Set("ns", ns20)
			resp.Set("assoc_handle", "h2")
			resp.Set("session_type", SessionDHSHA1)
			resp.Set("assoc_type", AssocHMACSHA1)
			resp.Set("expires_in", "3600")
			resp.Set("dh_server_public", encodeBigIntB64(server.public))
			resp.Set("enc_mac_key", encodeBase64(enc))
			return 200, resp.ToString(), nil, nil
		}
		return 500, "", nil, nil
	}

	rp := New(testReturnTo, fetch)
	rp.Store = newMemStore().Store

	res, err := rp.associate(context.Background(), testOPEndpoint)
	require.NoError(t, err)
	assert.Equal(t, associateOK, res)
	assert.Equal(t, 2, associateAttempts)
	assert.Equal(t, "h2", rp.Association.AssocHandle)
	assert.Equal(t, SessionDHSHA1, rp.Association.SessionType)
}

func TestAssociateRetryOnlyOnce(t *testing.T) {
	var attempts int
	fetch := func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		attempts++
		resp := NewParameters()
		resp.Set("ns", ns20)
		resp.Set("error", "still unsupported")
		resp.Set("error_code", "unsupported-type")
		resp.Set("session_type", SessionDHSHA1)
		resp.Set("assoc_type", AssocHMACSHA1)
		return 200, resp.ToString(), nil, nil
	}

	rp := New(testReturnTo, fetch)
	rp.Store = newMemStore().Store

	res, err := rp.associate(context.Background(), testOPEndpoint)
	assert.Equal(t, associateError, res)
	assert.Error(t, err)
	assert.Equal(t, 2, attempts, "one initial attempt plus exactly one retry")
}

// --- verification via a stored handle never makes an HTTP call ---

func TestVerifyViaStoredHandle(t *testing.T) {
	macKey := []byte("0123456789abcdef")
	st := newMemStore()
	st.data["h1"] = map[string]string{
		"assoc_type": AssocHMACSHA256,
		"mac_key":    encodeBase64(macKey),
	}

	var httpCalled bool
	fetch := func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		httpCalled = true
		return 500, "", nil, nil
	}

	rp := New(testReturnTo, fetch)
	rp.Store = st.Store
	rp.Find = st.Find
	rp.Remove = st.Remove
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	rp.Now = func() time.Time { return now }

	params := NewParameters()
	params.Set("mode", "id_res")
	params.Set("ns", ns20)
	params.Set("return_to", testReturnTo)
	params.Set("identity", testClaimedID)
	params.Set("response_nonce", now.Format("2006-01-02T15:04:05Z")+"uniq")
	params.Set("assoc_handle", "h1")
	params.Set("signed", "ns,mode,identity,return_to,response_nonce,assoc_handle")

	sig, err := ComputeSignature(AssocHMACSHA256, macKey, params.ToMapPrefixed(), []string{"ns", "mode", "identity", "return_to", "response_nonce", "assoc_handle"})
	require.NoError(t, err)
	params.Set("sig", sig)

	outcome, err := rp.Authenticate(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome.Kind)
	assert.Equal(t, testClaimedID, outcome.ClaimedID)
	assert.False(t, httpCalled, "verification via stored handle must not call HTTP")
}

// --- a signature mismatch falls back to direct verification ---

func TestVerifySignatureMismatchFallsBackToDirectVerification(t *testing.T) {
	macKey := []byte("0123456789abcdef")
	st := newMemStore()
	st.data["h1"] = map[string]string{
		"assoc_type": AssocHMACSHA256,
		"mac_key":    encodeBase64(macKey),
	}

	var directVerifyCalled bool
	fetch := func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		if params["openid.mode"] == "check_authentication" {
			directVerifyCalled = true
			resp := NewParameters()
			resp.Set("ns", ns20)
			resp.Set("is_valid", "true")
			return 200, resp.ToString(), nil, nil
		}
		return 500, "", nil, nil
	}

	rp := New(testReturnTo, fetch)
	rp.Store = st.Store
	rp.Find = st.Find
	rp.Remove = st.Remove
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	rp.Now = func() time.Time { return now }

	params := NewParameters()
	params.Set("mode", "id_res")
	params.Set("ns", ns20)
	params.Set("op_endpoint", testOPEndpoint)
	params.Set("return_to", testReturnTo)
	params.Set("identity", testClaimedID)
	params.Set("response_nonce", now.Format("2006-01-02T15:04:05Z")+"uniq")
	params.Set("assoc_handle", "h1")
	params.Set("signed", "ns,mode,identity,return_to,response_nonce,assoc_handle")
	params.Set("sig", "d3JvbmdzaWc=") // wrong signature

	outcome, err := rp.Authenticate(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome.Kind)
	assert.True(t, directVerifyCalled)
}

// --- a cancel callback passes straight through ---

func TestAuthenticateCancelPassthrough(t *testing.T) {
	fetch := func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		t.Fatal("cancel must not trigger any HTTP call")
		return 0, "", nil, nil
	}
	rp := New(testReturnTo, fetch)

	params := NewParameters()
	params.Set("mode", "cancel")

	outcome, err := rp.Authenticate(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancel, outcome.Kind)
}

// --- a stale nonce is rejected before any handle lookup ---

func TestAuthenticateStaleNonce(t *testing.T) {
	var findCalled bool
	fetch := func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		return 500, "", nil, nil
	}
	rp := New(testReturnTo, fetch)
	rp.Find = func(ctx context.Context, handle string) (map[string]string, bool, error) {
		findCalled = true
		return nil, false, nil
	}
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	rp.Now = func() time.Time { return now }

	params := NewParameters()
	params.Set("mode", "id_res")
	params.Set("ns", ns20)
	params.Set("return_to", testReturnTo)
	params.Set("identity", testClaimedID)
	params.Set("response_nonce", now.Add(-3*time.Hour).Format("2006-01-02T15:04:05Z")+"uniq")

	outcome, err := rp.Authenticate(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrStaleNonce)
	assert.False(t, findCalled, "stale nonce must short-circuit before handle lookup")
}

// --- additional behavioral properties ---

func TestClearResetsPerExchangeState(t *testing.T) {
	rp := New(testReturnTo, func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		return 500, "", nil, nil
	})
	rp.Discovery = &Discovery{ClaimedID: "x"}
	rp.Association = &Association{AssocHandle: "h"}
	rp.LastError = "boom"

	rp.Clear()

	assert.Nil(t, rp.Discovery)
	assert.Nil(t, rp.Association)
	assert.Empty(t, rp.LastError)
}

func TestReturnToMismatchIsExact(t *testing.T) {
	rp := New(testReturnTo, func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		return 500, "", nil, nil
	})

	params := NewParameters()
	params.Set("mode", "id_res")
	params.Set("ns", ns20)
	params.Set("return_to", testReturnTo+"/extra")
	params.Set("identity", testClaimedID)

	outcome, err := rp.Authenticate(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrReturnToMismatch)
}

func TestMissingReturnToPanics(t *testing.T) {
	rp := &RP{}
	assert.Panics(t, func() {
		_, _ = rp.Authenticate(context.Background(), NewParameters())
	})
}

func TestUnknownModeIsError(t *testing.T) {
	rp := New(testReturnTo, func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		return 500, "", nil, nil
	})
	params := NewParameters()
	params.Set("mode", "bogus")

	outcome, err := rp.Authenticate(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrUnknownMode)
}

func TestNoModeNoIdentifierIsNull(t *testing.T) {
	rp := New(testReturnTo, func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		return 500, "", nil, nil
	})
	outcome, err := rp.Authenticate(context.Background(), NewParameters())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNull, outcome.Kind)
}

func TestInvalidateHandleUnsupportedSignaled(t *testing.T) {
	fetch := func(ctx context.Context, method, url string, params map[string]string) (int, string, map[string][]string, error) {
		resp := NewParameters()
		resp.Set("ns", ns20)
		resp.Set("is_valid", "false")
		return 200, resp.ToString(), nil, nil
	}
	rp := New(testReturnTo, fetch)
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	rp.Now = func() time.Time { return now }

	params := NewParameters()
	params.Set("mode", "id_res")
	params.Set("ns", ns20)
	params.Set("op_endpoint", testOPEndpoint)
	params.Set("return_to", testReturnTo)
	params.Set("identity", testClaimedID)
	params.Set("response_nonce", now.Format("2006-01-02T15:04:05Z")+"uniq")
	params.Set("invalidate_handle", "stale-handle")

	outcome, err := rp.Authenticate(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrInvalidateHandleUnsupported)
}
