package openid

import (
	"context"
	"net/url"
)

// ProtocolVersion distinguishes OpenID 2.0 from the 1.1 fallback.
type ProtocolVersion string

const (
	Protocol20 ProtocolVersion = "2.0"
	Protocol11 ProtocolVersion = "1.1"
)

// Discovery is the result of resolving an identifier to an OP endpoint.
// When produced, OPEndpoint is always an absolute URL; OPLocalID
// defaults to ClaimedID when the handler didn't set one explicitly.
type Discovery struct {
	ClaimedID       string
	OPEndpoint      string
	OPLocalID       string
	ProtocolVersion ProtocolVersion
}

func (d *Discovery) fillDefaults() {
	if d.OPLocalID == "" {
		d.OPLocalID = d.ClaimedID
	}
}

// DiscoveryHandler attempts to resolve identifier to a Discovery. It
// returns (result, true, nil) on success, (nil, false, nil) to yield to
// the next handler in the chain, and a non-nil error only for a hard
// transport failure worth surfacing (a soft "nothing found" yields
// instead of erroring, so the dispatcher can still try later handlers).
//
// Modeled as an ordered list of handlers implementing a common
// capability rather than as an interface, so new discovery mechanisms
// can be added without touching existing ones.
type DiscoveryHandler func(ctx context.Context, rp *RP, id *Identifier) (*Discovery, bool, error)

// DefaultDiscoveryChain is Yadis then HTML discovery.
func DefaultDiscoveryChain(fetch HTTPFetcher) []DiscoveryHandler {
	return []DiscoveryHandler{
		YadisDiscoveryHandler(fetch),
		HTMLDiscoveryHandler(fetch),
	}
}

// discover runs handlers in order; the first to complete (return true)
// wins and short-circuits the rest. A result whose OPEndpoint is not an
// absolute URL counts as a yield. If none complete, discovery fails.
func discover(ctx context.Context, rp *RP, id *Identifier, handlers []DiscoveryHandler) (*Discovery, error) {
	for _, h := range handlers {
		d, done, err := h(ctx, rp, id)
		if err != nil {
			return nil, wrap(err, "discovery handler")
		}
		if done {
			if u, perr := url.Parse(d.OPEndpoint); perr != nil || !u.IsAbs() {
				continue
			}
			d.fillDefaults()
			return d, nil
		}
	}
	return nil, wrapf(ErrDiscoveryFailed, "no handler resolved identifier %q", id.Value)
}
