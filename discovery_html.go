package openid

import (
	"context"
	"strings"

	"golang.org/x/net/html"
)

const (
	rel20Provider = "openid2.provider"
	rel20LocalID  = "openid2.local_id"
	rel11Server   = "openid.server"
	rel11Delegate = "openid.delegate"
)

// HTMLDiscoveryHandler resolves identifier by fetching its HTML page and
// scanning <link> tags in <head> for the 2.0 rel="openid2.provider"/
// "openid2.local_id" pair, falling back to the 1.1
// rel="openid.server"/"openid.delegate" pair.
func HTMLDiscoveryHandler(fetch HTTPFetcher) DiscoveryHandler {
	return func(ctx context.Context, rp *RP, id *Identifier) (*Discovery, bool, error) {
		if id.IsXRI {
			return nil, false, nil
		}

		status, body, _, err := fetch(ctx, "GET", id.Value, nil)
		if err != nil || status != 200 {
			return nil, false, nil
		}

		links := parseLinkRels(body)

		if provider := links[rel20Provider]; provider != "" {
			return &Discovery{
				ClaimedID:       id.Value,
				OPEndpoint:      provider,
				OPLocalID:       firstNonEmpty(links[rel20LocalID], id.Value),
				ProtocolVersion: Protocol20,
			}, true, nil
		}
		if server := links[rel11Server]; server != "" {
			return &Discovery{
				ClaimedID:       id.Value,
				OPEndpoint:      server,
				OPLocalID:       firstNonEmpty(links[rel11Delegate], id.Value),
				ProtocolVersion: Protocol11,
			}, true, nil
		}
		return nil, false, nil
	}
}

// parseLinkRels walks the document's <link> tags and returns a map from
// rel value to href, stopping once </head> closes (OpenID discovery
// links only ever appear in the head).
func parseLinkRels(body string) map[string]string {
	out := map[string]string{}
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return out
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return out
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "link" || !hasAttr {
				continue
			}
			var rel, href string
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "rel":
					rel = string(val)
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}
			if rel != "" && href != "" {
				out[rel] = href
			}
		}
	}
}
