package interest_test

import (
	"testing"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
	"github.com/chris-alexander-pop/relaymq/pkg/broker/interest"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) interest.Pattern {
	t.Helper()
	p, ok := interest.Parse(raw)
	require.True(t, ok, "expected %q to parse", raw)
	return p
}

func TestParseRejectsMalformedPatterns(t *testing.T) {
	cases := []string{"", "a..b", ".a", "a.", "a.>.b"}
	for _, c := range cases {
		_, ok := interest.Parse(c)
		require.False(t, ok, "expected %q to be rejected", c)
	}
}

func TestParseAcceptsWellFormedPatterns(t *testing.T) {
	cases := []string{"orders", "orders.*", "orders.*.created", "orders.>"}
	for _, c := range cases {
		_, ok := interest.Parse(c)
		require.True(t, ok, "expected %q to be accepted", c)
	}
}

func TestPatternMatchesLiteralAndWildcards(t *testing.T) {
	require.True(t, mustParse(t, "orders.created").Matches("orders.created"))
	require.False(t, mustParse(t, "orders.created").Matches("orders.cancelled"))
	require.True(t, mustParse(t, "orders.*.created").Matches("orders.123.created"))
	require.False(t, mustParse(t, "orders.*.created").Matches("orders.123.456.created"))
	require.True(t, mustParse(t, "orders.>").Matches("orders.123.created"))
	require.False(t, mustParse(t, "orders.>").Matches("shipments.123"))
}

func TestIndexFindUnionsAcrossPatterns(t *testing.T) {
	idx := interest.New()
	epA := broker.NewEndpointAddr()
	epB := broker.NewEndpointAddr()

	idx.Insert(mustParse(t, "orders.created"), epA)
	idx.Insert(mustParse(t, "orders.*"), epB)

	found := idx.Find("orders.created")
	require.Len(t, found, 2)
	require.Contains(t, found, epA)
	require.Contains(t, found, epB)

	found = idx.Find("orders.cancelled")
	require.Equal(t, []broker.EndpointAddr{epB}, found)
}

func TestIndexDeleteRemovesAllPatternsForEndpoint(t *testing.T) {
	idx := interest.New()
	ep := broker.NewEndpointAddr()
	idx.Insert(mustParse(t, "orders.created"), ep)
	idx.Insert(mustParse(t, "orders.>"), ep)

	require.Len(t, idx.Find("orders.created"), 1)
	idx.Delete(ep)
	require.Empty(t, idx.Find("orders.created"))
	require.Empty(t, idx.Patterns(ep))
}

func TestIndexFindIsDeterministicallySorted(t *testing.T) {
	idx := interest.New()
	var eps []broker.EndpointAddr
	for i := 0; i < 10; i++ {
		ep := broker.NewEndpointAddr()
		eps = append(eps, ep)
		idx.Insert(mustParse(t, "fanout.>"), ep)
	}

	first := idx.Find("fanout.x")
	for i := 0; i < 5; i++ {
		require.Equal(t, first, idx.Find("fanout.x"))
	}
	for i := 1; i < len(first); i++ {
		require.True(t, first[i-1].Less(first[i]), "result must be sorted ascending")
	}
}
