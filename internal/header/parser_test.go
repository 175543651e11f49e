package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListUnsubscribe_BothTargets(t *testing.T) {
	got := ParseListUnsubscribe("<https://example.com/u/123>, <mailto:unsub@example.com>")
	assert.Equal(t, "https://example.com/u/123", got.HTTPURL)
	assert.Equal(t, "mailto:unsub@example.com", got.Mailto)

	// Declaration order does not matter.
	got = ParseListUnsubscribe("<mailto:unsub@example.com>, <https://example.com/u/123>")
	assert.Equal(t, "https://example.com/u/123", got.HTTPURL)
	assert.Equal(t, "mailto:unsub@example.com", got.Mailto)
}

func TestParseListUnsubscribe_FirstHTTPWins(t *testing.T) {
	got := ParseListUnsubscribe("<https://a.example/1>, <https://b.example/2>")
	assert.Equal(t, "https://a.example/1", got.HTTPURL)
}

func TestParseListUnsubscribe_BareTokens(t *testing.T) {
	// Some senders skip the angle brackets entirely.
	got := ParseListUnsubscribe("https://example.com/unsub, mailto:bye@example.com")
	assert.Equal(t, "https://example.com/unsub", got.HTTPURL)
	assert.Equal(t, "mailto:bye@example.com", got.Mailto)
}

func TestParseListUnsubscribe_Empty(t *testing.T) {
	got := ParseListUnsubscribe("")
	assert.Empty(t, got.HTTPURL)
	assert.Empty(t, got.Mailto)
}

func TestParseOneClick(t *testing.T) {
	assert.True(t, ParseOneClick("List-Unsubscribe=One-Click"))
	assert.True(t, ParseOneClick("list-unsubscribe=one-click"))
	assert.False(t, ParseOneClick(""))
	assert.False(t, ParseOneClick("something-else"))
}

func TestParseFrom_DisplayName(t *testing.T) {
	got := ParseFrom(`"Promo Sender" <Promo@Example.COM>`)
	assert.Equal(t, "Promo Sender", got.Name)
	assert.Equal(t, "promo@example.com", got.Email)
	assert.Equal(t, "example.com", got.Domain)
}

func TestParseFrom_BareAddress(t *testing.T) {
	got := ParseFrom("news@lists.example.org")
	assert.Empty(t, got.Name)
	assert.Equal(t, "news@lists.example.org", got.Email)
	assert.Equal(t, "lists.example.org", got.Domain)
}

func TestParseFrom_Malformed(t *testing.T) {
	assert.Equal(t, From{}, ParseFrom("not an address"))
	assert.Equal(t, From{}, ParseFrom(""))
}

func TestNormalizeListID(t *testing.T) {
	assert.Equal(t, "list.example.com", NormalizeListID("My List <list.example.com>"))
	assert.Equal(t, "list.example.com", NormalizeListID("<list.example.com>"))
	assert.Equal(t, "plain-value", NormalizeListID("  plain-value  "))
	assert.Equal(t, "", NormalizeListID(""))
}
