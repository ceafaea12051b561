package openid

import "context"

// verify runs the verification pipeline for an id_res callback.
func (rp *RP) verify(ctx context.Context, params *Parameters) (*Outcome, error) {
	is20 := params.GetDefault("ns", "") == ns20

	// 1. return_to check: exact string equality against the configured
	// value. Case-insensitive comparison is deliberately not applied
	// here.
	returnTo, _ := params.Get("return_to")
	if returnTo != rp.ReturnTo {
		rp.LastError = ErrReturnToMismatch.Error()
		return &Outcome{Kind: OutcomeError, Err: ErrReturnToMismatch}, nil
	}

	// 2. openid.identity must be present.
	identity, hasIdentity := params.Get("identity")
	if !hasIdentity || identity == "" {
		rp.LastError = ErrMissingIdentity.Error()
		return &Outcome{Kind: OutcomeError, Err: ErrMissingIdentity}, nil
	}

	// 3. nonce check, 2.0 only.
	if is20 {
		nonce, _ := params.Get("response_nonce")
		if _, err := CheckNonce(nonce, rp.now()); err != nil {
			rp.LastError = err.Error()
			return &Outcome{Kind: OutcomeError, Err: err}, nil
		}
	}

	// 4. invalidated handle: best-effort async removal.
	if handle, ok := params.Get("invalidate_handle"); ok && rp.Store != nil && rp.Remove != nil {
		go func() { _ = rp.Remove(context.Background(), handle) }()
	}

	// 5. handle lookup.
	assocHandle, hasHandle := params.Get("assoc_handle")
	if hasHandle && rp.Find != nil {
		fields, found, err := rp.Find(ctx, assocHandle)
		if err != nil {
			rp.LastError = err.Error()
			return &Outcome{Kind: OutcomeError, Err: wrap(err, "find association")}, nil
		}
		if found {
			// 6. signature check.
			signed, _ := params.Get("signed")
			sig, _ := params.Get("sig")
			macKey, err := decodeBase64(fields["mac_key"])
			if err == nil {
				sigErr := VerifySignature(fields["assoc_type"], macKey, params.ToMapPrefixed(), signed, sig)
				if sigErr == nil {
					return &Outcome{Kind: OutcomeVerified, ClaimedID: identity}, nil
				}
			}
			// fall through to direct verification on mismatch/decode error
		}
	}

	// 7. direct verification.
	return rp.directVerify(ctx, params, identity)
}

func (rp *RP) directVerify(ctx context.Context, params *Parameters, identity string) (*Outcome, error) {
	opEndpoint, hasEndpoint := params.Get("op_endpoint")
	is20 := params.GetDefault("ns", "") == ns20
	if !is20 || !hasEndpoint {
		id, err := NormalizeIdentifier(identity)
		if err != nil {
			rp.LastError = err.Error()
			return &Outcome{Kind: OutcomeError, Err: err}, nil
		}
		d, err := discover(ctx, rp, id, rp.DiscoveryChain)
		if err != nil {
			rp.LastError = err.Error()
			return &Outcome{Kind: OutcomeError, Err: err}, nil
		}
		opEndpoint = d.OPEndpoint
	}

	req := params.Clone()
	req.Set("mode", "check_authentication")

	status, body, _, err := rp.Fetch(ctx, "POST", opEndpoint, req.ToMapPrefixed())
	if err != nil {
		rp.LastError = err.Error()
		return &Outcome{Kind: OutcomeError, Err: wrapf(ErrTransport, "check_authentication request: %v", err)}, nil
	}
	if status != 200 {
		err := errNewf("check_authentication: OP returned status %d", status)
		rp.LastError = err.Error()
		return &Outcome{Kind: OutcomeError, Err: err}, nil
	}

	resp := ParseParameters(body)
	isValid := resp.GetDefault("is_valid", "false") == "true"
	_, hasInvalidate := params.Get("invalidate_handle")

	if !isValid && hasInvalidate {
		// Not implemented: treated as a recoverable, signaled error
		// rather than a silent success.
		rp.LastError = ErrInvalidateHandleUnsupported.Error()
		return &Outcome{Kind: OutcomeError, Err: ErrInvalidateHandleUnsupported}, nil
	}
	if !isValid {
		rp.LastError = "check_authentication: is_valid=false"
		return &Outcome{Kind: OutcomeError, Err: errNewf("check_authentication: is_valid=false")}, nil
	}

	return &Outcome{Kind: OutcomeVerified, ClaimedID: identity}, nil
}
