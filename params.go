package openid

import (
	"strings"
)

const prefix = "openid."

// Parameters is an ordered list of OpenID key-value pairs. Order is
// preserved on insertion because signature computation and redirect-URL
// construction both depend on deterministic round-trips.
type Parameters struct {
	names  []string
	values map[string]string
}

// NewParameters returns an empty Parameters list.
func NewParameters() *Parameters {
	return &Parameters{values: map[string]string{}}
}

// ParseParameters parses a line-based "name:value" body, one pair per
// line. Lines that don't match are skipped; parsing never fails, since
// upstream validators are the ones that detect missing required fields.
func ParseParameters(body string) *Parameters {
	p := NewParameters()
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		i := strings.Index(line, ":")
		if i < 0 {
			continue
		}
		p.Set(line[:i], line[i+1:])
	}
	return p
}

// ParseForm builds a Parameters list from an HTTP form's values, keeping
// only openid.*-prefixed keys and stripping the prefix on the way in (Set
// re-applies it), which lets callers pass url.Values or r.Form directly.
func ParseForm(form map[string][]string) *Parameters {
	p := NewParameters()
	for k, vs := range form {
		if len(vs) == 0 {
			continue
		}
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		p.Set(strings.TrimPrefix(k, prefix), vs[0])
	}
	return p
}

func canonical(name string) string {
	if strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

// Set stores value under name, prefixing with "openid." if not already
// present. Re-setting an existing name overwrites in place, preserving
// its original position.
func (p *Parameters) Set(name, value string) {
	name = canonical(name)
	if _, ok := p.values[name]; !ok {
		p.names = append(p.names, name)
	}
	p.values[name] = value
}

// Get returns the value stored under name (with or without the
// "openid." prefix) and whether it was present.
func (p *Parameters) Get(name string) (string, bool) {
	v, ok := p.values[canonical(name)]
	return v, ok
}

// GetDefault is like Get but returns def when name is absent.
func (p *Parameters) GetDefault(name, def string) string {
	if v, ok := p.Get(name); ok {
		return v
	}
	return def
}

// Names returns the stored names in insertion order, without prefix.
func (p *Parameters) Names() []string {
	out := make([]string, len(p.names))
	for i, n := range p.names {
		out[i] = strings.TrimPrefix(n, prefix)
	}
	return out
}

// ToMap returns a copy with the "openid." prefix stripped from keys.
func (p *Parameters) ToMap() map[string]string {
	out := make(map[string]string, len(p.names))
	for _, n := range p.names {
		out[strings.TrimPrefix(n, prefix)] = p.values[n]
	}
	return out
}

// ToMapPrefixed returns a copy with the "openid." prefix retained, used
// when building redirect URLs and POST bodies.
func (p *Parameters) ToMapPrefixed() map[string]string {
	out := make(map[string]string, len(p.names))
	for _, n := range p.names {
		out[n] = p.values[n]
	}
	return out
}

// ToString reproduces the line-based key-value wire format, prefixes
// stripped, in insertion order. This is the body shape of OP responses to
// associate and check_authentication, as read by ParseParameters; requests
// to the OP are sent form-encoded from ToMapPrefixed instead.
func (p *Parameters) ToString() string {
	var b strings.Builder
	for _, n := range p.names {
		b.WriteString(strings.TrimPrefix(n, prefix))
		b.WriteByte(':')
		b.WriteString(p.values[n])
		b.WriteByte('\n')
	}
	return b.String()
}

// Clone returns an independent copy of p.
func (p *Parameters) Clone() *Parameters {
	c := NewParameters()
	c.names = append([]string(nil), p.names...)
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}
