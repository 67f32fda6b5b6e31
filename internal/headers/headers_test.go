package headers

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshot flattens a Table into (name, value) pairs in insertion order, for
// cmp.Diff comparisons where a mismatch should name the exact differing pair
// rather than just report "not equal".
func snapshot(tb *Table) [][2]string {
	var out [][2]string
	tb.Range(func(name, value string) { out = append(out, [2]string{name, value}) })
	return out
}

func TestTableAddGetCaseInsensitive(t *testing.T) {
	tb := New()
	tb.Add("Content-Type", "text/plain")
	tb.Add("content-type", "application/json")

	v, ok := tb.Get("CONTENT-TYPE")
	require.True(t, ok)
	assert.Equal(t, "text/plain", v)
	assert.Equal(t, []string{"text/plain", "application/json"}, tb.Values("Content-Type"))
}

func TestTableSetReplacesAll(t *testing.T) {
	tb := New()
	tb.Add("X-A", "1")
	tb.Add("X-A", "2")
	tb.Set("x-a", "3")
	assert.Equal(t, []string{"3"}, tb.Values("X-A"))
}

func TestTableCloneIsIndependent(t *testing.T) {
	tb := New()
	tb.Add("X-A", "1")
	clone := tb.Clone()
	clone.Add("X-A", "2")

	assert.Equal(t, []string{"1"}, tb.Values("X-A"))
	assert.Equal(t, []string{"1", "2"}, clone.Values("X-A"))
}

func TestTableNamesPreservesFirstSeenCase(t *testing.T) {
	tb := New()
	tb.Add("Accept", "a")
	tb.Add("ACCEPT", "b")
	tb.Add("X-Foo", "c")
	assert.Equal(t, []string{"Accept", "X-Foo"}, tb.Names())
}

func TestTokensSplitsAndTrims(t *testing.T) {
	assert.Equal(t, []string{"close", "Upgrade"}, Tokens(" close ,Upgrade"))
	assert.Nil(t, Tokens(""))
}

func TestHasToken(t *testing.T) {
	tb := New()
	tb.Add("Connection", "keep-alive, Upgrade")
	assert.True(t, tb.HasToken("Connection", "upgrade"))
	assert.False(t, tb.HasToken("Connection", "close"))
}

func TestTableCloneMatchesSourceSnapshot(t *testing.T) {
	tb := New()
	tb.Add("Accept", "text/html")
	tb.Add("Accept-Encoding", "gzip")
	tb.Set("X-Request-Id", "abc123")

	clone := tb.Clone()
	want := snapshot(tb)
	got := snapshot(clone)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("clone snapshot mismatch (-want +got):\n%s", diff)
	}
}
