package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewProducesDistinctTimeOrderedIDs(t *testing.T) {
	a, err := New()
	require.NoError(t, err)
	b, err := New()
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.Equal(t, uuid.Version(7), a.Version())
}

func TestParseRoundTrips(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestFileStemStripsHyphens(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	stem := FileStem(id)
	require.Len(t, stem, 32)
	require.NotContains(t, stem, "-")
}
