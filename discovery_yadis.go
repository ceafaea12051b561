package openid

import (
	"context"
	"encoding/xml"
	"strings"
)

const (
	xrdsContentType  = "application/xrds+xml"
	xrdsLocationHdr  = "X-Xrds-Location"
	typeOpenID20Sign = "http://specs.openid.net/auth/2.0/signon"
	typeOpenID11     = "http://openid.net/signon/1.1"
	typeOpenID10     = "http://openid.net/signon/1.0"
)

// xrdsDocument is the minimal XRDS shape needed to resolve an OP
// endpoint: a list of services, each with one or more Types, a URI, and
// an optional LocalID/Delegate.
type xrdsDocument struct {
	XMLName xml.Name `xml:"XRDS"`
	XRD     xrdsXRD  `xml:"XRD"`
}

type xrdsXRD struct {
	Services []xrdsService `xml:"Service"`
}

type xrdsService struct {
	Types    []string `xml:"Type"`
	URI      string   `xml:"URI"`
	LocalID  string   `xml:"LocalID"`
	Delegate string   `xml:"Delegate"`
}

func (s xrdsService) hasType(t string) bool {
	for _, got := range s.Types {
		if got == t {
			return true
		}
	}
	return false
}

// YadisDiscoveryHandler resolves identifier via Yadis: GET the
// identifier URL, follow an X-XRDS-Location redirect header if the
// response wasn't already XRDS, and parse the XRDS document for an
// OpenID 2.0 or 1.1 service.
func YadisDiscoveryHandler(fetch HTTPFetcher) DiscoveryHandler {
	return func(ctx context.Context, rp *RP, id *Identifier) (*Discovery, bool, error) {
		if id.IsXRI {
			// XRI resolution requires a proxy resolver; out of scope
			// for this handler, so yield to the next in the chain.
			return nil, false, nil
		}

		status, body, headers, err := fetch(ctx, "GET", id.Value, nil)
		if err != nil {
			return nil, false, nil // transport failure: yield, don't hard-error discovery
		}
		if status != 200 {
			return nil, false, nil
		}

		xrdsBody := body
		if !looksLikeXRDS(body, headers) {
			loc := headerValue(headers, xrdsLocationHdr)
			if loc == "" {
				return nil, false, nil
			}
			status, body, _, err = fetch(ctx, "GET", loc, nil)
			if err != nil || status != 200 {
				return nil, false, nil
			}
			xrdsBody = body
		}

		doc := &xrdsDocument{}
		if err := xml.Unmarshal([]byte(xrdsBody), doc); err != nil {
			return nil, false, nil
		}

		for _, svc := range doc.XRD.Services {
			if svc.URI == "" {
				continue
			}
			switch {
			case svc.hasType(typeOpenID20Sign):
				return &Discovery{
					ClaimedID:       id.Value,
					OPEndpoint:      svc.URI,
					OPLocalID:       firstNonEmpty(svc.LocalID, id.Value),
					ProtocolVersion: Protocol20,
				}, true, nil
			case svc.hasType(typeOpenID11), svc.hasType(typeOpenID10):
				return &Discovery{
					ClaimedID:       id.Value,
					OPEndpoint:      svc.URI,
					OPLocalID:       firstNonEmpty(svc.Delegate, id.Value),
					ProtocolVersion: Protocol11,
				}, true, nil
			}
		}
		return nil, false, nil
	}
}

func looksLikeXRDS(body string, headers map[string][]string) bool {
	if strings.Contains(headerValue(headers, "Content-Type"), "xrds") {
		return true
	}
	return strings.Contains(body, "<XRDS")
}

func headerValue(headers map[string][]string, name string) string {
	for k, vs := range headers {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
