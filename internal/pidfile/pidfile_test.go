package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pids", "backend.pid")

	require.NoError(t, Write(path, 4242))
	pid, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 4242, pid)

	require.NoError(t, Remove(path, 4242))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.NoError(t, Remove(path, 4242))
}

func TestRemoveKeepsNewerPid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.pid")
	require.NoError(t, Write(path, 1))
	require.NoError(t, Write(path, 2))

	require.NoError(t, Remove(path, 1))
	pid, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 2, pid)
}

func TestEmptyPathIsNoop(t *testing.T) {
	require.NoError(t, Write("", 1))
	require.NoError(t, Remove("", 1))
}
