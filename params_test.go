package openid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParametersSetGet(t *testing.T) {
	p := NewParameters()
	p.Set("mode", "checkid_setup")
	p.Set("openid.ns", "http://specs.openid.net/auth/2.0")

	v, ok := p.Get("mode")
	require.True(t, ok)
	assert.Equal(t, "checkid_setup", v)

	v, ok = p.Get("openid.mode")
	require.True(t, ok)
	assert.Equal(t, "checkid_setup", v)

	v, ok = p.Get("ns")
	require.True(t, ok)
	assert.Equal(t, "http://specs.openid.net/auth/2.0", v)
}

func TestParametersOverwritePreservesPosition(t *testing.T) {
	p := NewParameters()
	p.Set("a", "1")
	p.Set("b", "2")
	p.Set("a", "3")

	assert.Equal(t, []string{"a", "b"}, p.Names())
	v, _ := p.Get("a")
	assert.Equal(t, "3", v)
}

func TestParametersToMapToMapPrefixed(t *testing.T) {
	p := NewParameters()
	p.Set("mode", "id_res")
	p.Set("sig", "abc==")

	m := p.ToMap()
	assert.Equal(t, map[string]string{"mode": "id_res", "sig": "abc=="}, m)

	prefixed := p.ToMapPrefixed()
	assert.Equal(t, map[string]string{"openid.mode": "id_res", "openid.sig": "abc=="}, prefixed)

	for k := range m {
		_, ok := prefixed["openid."+k]
		assert.True(t, ok, "prefixed keys must be to_map keys with openid. prepended")
	}
}

func TestParseParametersRoundTrip(t *testing.T) {
	p := NewParameters()
	p.Set("mode", "id_res")
	p.Set("ns", "http://specs.openid.net/auth/2.0")
	p.Set("sig", "deadbeef==")

	s := p.ToString()
	got := ParseParameters(s)

	assert.Equal(t, p.ToMap(), got.ToMap())
}

func TestParseParametersSkipsMalformedLines(t *testing.T) {
	p := ParseParameters("mode:id_res\nnotavalidline\nsig:abc\n")
	m := p.ToMap()
	assert.Equal(t, "id_res", m["mode"])
	assert.Equal(t, "abc", m["sig"])
	assert.Len(t, m, 2)
}

func TestParseParametersEmptyValue(t *testing.T) {
	p := ParseParameters("mode:\n")
	v, ok := p.Get("mode")
	require.True(t, ok)
	assert.Equal(t, "", v)
}

func TestParseForm(t *testing.T) {
	form := map[string][]string{
		"openid.mode": {"id_res"},
		"unrelated":   {"ignored"},
	}
	p := ParseForm(form)
	m := p.ToMap()
	assert.Equal(t, map[string]string{"mode": "id_res"}, m)
}

func TestParametersClone(t *testing.T) {
	p := NewParameters()
	p.Set("mode", "id_res")
	c := p.Clone()
	c.Set("mode", "cancel")

	v, _ := p.Get("mode")
	assert.Equal(t, "id_res", v, "clone must be independent")
}
