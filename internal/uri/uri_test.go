package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeLowercasesSchemeAndHost(t *testing.T) {
	out, err := Canonicalize("HTTP://Example.COM/Path")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/Path", out)
}

func TestCanonicalizeElidesDefaultPort(t *testing.T) {
	out, err := Canonicalize("https://example.com:443/a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", out)

	out, err = Canonicalize("https://example.com:8443/a")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com:8443/a", out)
}

func TestCanonicalizeDotSegments(t *testing.T) {
	out, err := Canonicalize("http://example.com/a/./b/../c/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a/c/", out)
}

func TestCanonicalizePercentNormalization(t *testing.T) {
	out, err := Canonicalize("http://example.com/%7euser/%2f")
	require.NoError(t, err)
	// %7E decodes to '~' (unreserved) -> literal; %2F decodes to '/' (reserved) -> kept, hex uppercased.
	assert.Equal(t, "http://example.com/~user/%2F", out)
}

func TestCanonicalizeQuerySortedByName(t *testing.T) {
	out, err := Canonicalize("http://example.com/x?b=2&a=1&a=0")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/x?a=1&a=0&b=2", out)
}

func TestCanonicalizeQueryMissingEquals(t *testing.T) {
	out, err := Canonicalize("http://example.com/x?flag&a=1")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/x?a=1&flag", out)
}

func TestCanonicalizeEmptyQueryOmitted(t *testing.T) {
	out, err := Canonicalize("http://example.com/x?")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/x", out)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	cases := []string{
		"HTTP://Example.COM:80/a/./b/../c/?b=2&a=1",
		"https://x.com/%7Eabc?Z=1&a=%2Fq",
	}
	for _, c := range cases {
		first, err := Canonicalize(c)
		require.NoError(t, err)
		second, err := Canonicalize(first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestCanonicalizeRejectsRelative(t *testing.T) {
	_, err := Canonicalize("/just/a/path")
	require.Error(t, err)
}

func TestParseOriginDefaultsPort(t *testing.T) {
	o, err := ParseOrigin("https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, Origin{Scheme: "https", Host: "example.com", Port: "443"}, o)
}
