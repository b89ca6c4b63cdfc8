package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInstanceLockSingleHolder(t *testing.T) {
	dir := t.TempDir()

	lock, ok, err := acquireInstanceLock(dir)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := acquireInstanceLock(dir)
	require.NoError(t, err)
	require.False(t, ok2)

	lock.release()

	lock2, ok3, err := acquireInstanceLock(dir)
	require.NoError(t, err)
	require.True(t, ok3)
	lock2.release()
}

func TestPIDAndPortFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()

	require.Equal(t, 0, readPID(dir))
	savePID(dir, 4242)
	require.Equal(t, 4242, readPID(dir))
	removePID(dir)
	require.Equal(t, 0, readPID(dir))

	require.Equal(t, 0, readPort(dir))
	savePort(dir, 1717)
	require.Equal(t, 1717, readPort(dir))
	removePort(dir)
	require.Equal(t, 0, readPort(dir))
}

func TestEnsureAuthTokenIsStable(t *testing.T) {
	dir := t.TempDir()

	token1, err := ensureAuthToken(dir)
	require.NoError(t, err)
	require.NotEmpty(t, token1)

	token2, err := ensureAuthToken(dir)
	require.NoError(t, err)
	require.Equal(t, token1, token2)
}
