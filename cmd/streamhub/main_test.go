package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return buf.String()
}

func TestVersion(t *testing.T) {
	assert.Equal(t, version+"\n", execute(t, "version", "--env-file", ""))
}

func TestMembers_Static(t *testing.T) {
	t.Setenv("NODE_ID", "b")
	t.Setenv("CLUSTER_MEMBERS", "c,a,b")
	out := execute(t, "members", "--env-file", "")
	assert.Equal(t, "a\nb (local)\nc\n", out)
}

func TestMembers_EmbeddedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node: {id: n2}
cluster:
  mode: embedded
  raft_addr: 127.0.0.1:7001
  nodes: {n1: "127.0.0.1:7000", n2: "127.0.0.1:7001"}
transport: {kind: redis}
`), 0o600))

	out := execute(t, "members", "--config", path, "--env-file", "", "--out", "json")
	var rows []memberRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, []memberRow{
		{ID: "n1", RaftAddr: "127.0.0.1:7000"},
		{ID: "n2", RaftAddr: "127.0.0.1:7001", Local: true},
	}, rows)
}

func TestEnvFileLoaded(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envPath, []byte("NODE_ID=from-env-file\n"), 0o600))
	// godotenv no pisa variables ya definidas (aunque estén vacías)
	for _, k := range []string{"NODE_ID", "CLUSTER_MEMBERS"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	out := execute(t, "members", "--env-file", envPath)
	assert.Equal(t, "from-env-file (local)\n", out)
}
