package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValid(t *testing.T) {
	require.True(t, FinalityFinalized.IsValid())
	require.True(t, FinalitySafe.IsValid())
	require.True(t, FinalityLatest.IsValid())
	require.False(t, BlockFinality("pending").IsValid())
	require.False(t, BlockFinality("").IsValid())
}

func TestParseBlockFinality(t *testing.T) {
	for _, s := range []string{"finalized", "safe", "latest"} {
		got, err := ParseBlockFinality(s)
		require.NoError(t, err, s)
		require.Equal(t, BlockFinality(s), got)
	}
}

func TestParseEmptyDefaultsToFinalized(t *testing.T) {
	got, err := ParseBlockFinality("")
	require.NoError(t, err)
	require.Equal(t, FinalityFinalized, got)
}

func TestParseRejectsUnknownTier(t *testing.T) {
	_, err := ParseBlockFinality("confirmed")
	require.Error(t, err)
	require.Contains(t, err.Error(), "confirmed")
}
