package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sat18-labs/sat18/internal/auth"
	"github.com/sat18-labs/sat18/internal/testutil"
)

func TestRunWritesUsableKeys(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run(dir, "console-secret", &out))

	mgr, err := auth.NewSessionManager(
		filepath.Join(dir, "jwt_private.pem"),
		filepath.Join(dir, "jwt_public.pem"),
		time.Minute, testutil.TestLogger())
	require.NoError(t, err)
	token, _, err := mgr.Issue("console")
	require.NoError(t, err)
	claims, err := mgr.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "console", claims.ClientID)

	var hash string
	for _, line := range strings.Split(out.String(), "\n") {
		if v, ok := strings.CutPrefix(line, "SAT18_API_KEY_HASH="); ok {
			hash = v
		}
	}
	require.NotEmpty(t, hash)
	v, err := auth.NewKeyVerifier(hash)
	require.NoError(t, err)
	assert.True(t, v.Verify("console-secret"))
	assert.False(t, v.Verify("wrong"))
}

func TestRunRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, run(dir, "", &bytes.Buffer{}))
	err := run(dir, "", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}
