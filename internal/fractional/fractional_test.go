package fractional_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/internal/fractional"
)

func TestGenBetweenOpenEnds(t *testing.T) {
	k, err := fractional.GenBetween(nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, k)

	first, err := fractional.GenBetween(nil, nil)
	require.NoError(t, err)
	after, err := fractional.GenBetween(&first, nil)
	require.NoError(t, err)
	require.Greater(t, after, first)

	before, err := fractional.GenBetween(nil, &first)
	require.NoError(t, err)
	require.Less(t, before, first)
}

func TestGenBetweenRejectsBadOrder(t *testing.T) {
	a, b := "m", "a"
	_, err := fractional.GenBetween(&a, &b)
	require.ErrorIs(t, err, fractional.ErrOrder)

	same := "m"
	_, err = fractional.GenBetween(&same, &same)
	require.ErrorIs(t, err, fractional.ErrOrder)
}

// TestGenBetweenTotality exercises testable property 1: for any two
// distinct, correctly-ordered keys, GenBetween always produces a key
// strictly between them, repeatedly, without ever colliding.
func TestGenBetweenTotality(t *testing.T) {
	prev, next := "1", "9"
	for i := 0; i < 50; i++ {
		mid, err := fractional.GenBetween(&prev, &next)
		require.NoError(t, err)
		require.Greater(t, mid, prev)
		require.Less(t, mid, next)
		next = mid
	}
}

func TestNeedsRebalance(t *testing.T) {
	require.False(t, fractional.NeedsRebalance("abcdefgh"))
	require.True(t, fractional.NeedsRebalance("abcdefghi"))
}

// TestRebalancePreservesOrder exercises testable property 2: rewriting
// a sibling list to evenly spaced keys never changes the relative
// order the original keys encoded.
func TestRebalancePreservesOrder(t *testing.T) {
	original := []string{"1", "155555555", "19999999999", "2"}
	rebalanced := fractional.Rebalance(original)
	require.Len(t, rebalanced, len(original))
	for i := 1; i < len(rebalanced); i++ {
		require.Less(t, rebalanced[i-1], rebalanced[i], "rebalance must preserve relative order")
	}
	for _, k := range rebalanced {
		require.False(t, fractional.NeedsRebalance(k))
	}
}

func TestRebalanceManySiblingsFallsBackToTwoChars(t *testing.T) {
	siblings := make([]string, 200)
	for i := range siblings {
		siblings[i] = "x"
	}
	rebalanced := fractional.Rebalance(siblings)
	require.Len(t, rebalanced, len(siblings))
	for _, k := range rebalanced {
		require.Len(t, k, 2)
		require.False(t, fractional.NeedsRebalance(k))
	}
}

func TestRebalanceEmpty(t *testing.T) {
	require.Nil(t, fractional.Rebalance(nil))
}
