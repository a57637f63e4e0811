package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_DefaultsToSQLite(t *testing.T) {
	st, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)
}

func TestOpen_DriverCaseInsensitive(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: " SQLite ", Path: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	_, ok := st.(*SQLiteStore)
	assert.True(t, ok)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown driver "mysql"`)
}
