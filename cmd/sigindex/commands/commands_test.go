package commands_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sigindex"
	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/cmd/sigindex/commands"
)

type env struct {
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()

	dir := t.TempDir()
	cfg := fmt.Sprintf(`blob:
  backend: local
  dir: %[1]s/blobs
checkpoint:
  backend: badger
  path: %[1]s/badger
lock:
  backend: file
  dir: %[1]s/locks
codec:
  compression: lz4
  block_size: 4KiB
log:
  level: error
  format: json
metrics:
  textfile: %[1]s/sigindex.prom
staging_dir: %[1]s
`, filepath.ToSlash(dir))

	path := filepath.Join(dir, "sigindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	return &env{dir: dir, config: path}
}

func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := commands.NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func (e *env) writeItems(t *testing.T, name string, lines ...string) string {
	t.Helper()

	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func TestEnableAndStatus(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "enable", "md5", "sha1")
	require.NoError(t, err)
	assert.Contains(t, out, "enabled md5")
	assert.Contains(t, out, "enabled sha1")

	out, err = e.run(t, "status", "-o", "json")
	require.NoError(t, err)

	var statuses []sigindex.Status
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "md5", statuses[0].SignalType)
	assert.Equal(t, "sha1", statuses[1].SignalType)
	assert.False(t, statuses[0].Live)
	assert.False(t, statuses[0].HasBlob())

	out, err = e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "md5")
	assert.Contains(t, out, "Total: 2")
}

func TestRebuildInspectLiveness(t *testing.T) {
	e := newEnv(t)
	items := e.writeItems(t, "items.jsonl",
		`{"signal_type":"md5","id":1,"timestamp":100,"hashes":["a","b"]}`,
		`{"signal_type":"sha1","id":2,"timestamp":110,"hashes":["x"]}`,
		`{"id":3,"timestamp":120,"hashes":["a"]}`,
	)

	out, err := e.run(t, "liveness", "md5")
	require.NoError(t, err)
	assert.Equal(t, "md5: not live\n", out)

	out, err = e.run(t, "rebuild", "md5", "--items", items, "-o", "json")
	require.NoError(t, err)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0]["committed"])
	assert.Equal(t, true, results[0]["full"])
	assert.EqualValues(t, 2, results[0]["items"])
	assert.EqualValues(t, 3, results[0]["signal_count"])
	assert.EqualValues(t, 3, results[0]["last_item_id"])

	out, err = e.run(t, "liveness", "md5")
	require.NoError(t, err)
	assert.Equal(t, "md5: live\n", out)

	out, err = e.run(t, "inspect", "md5", "--hash", "a", "--hash", "zz", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "hashes: 2")
	assert.Contains(t, out, "entries: 3")
	assert.Contains(t, out, "- 1\n")
	assert.Contains(t, out, "- 3\n")

	out, err = e.run(t, "inspect", "md5", "--hash", "a")
	require.NoError(t, err)
	assert.Contains(t, out, "1 3")

	// Nothing new: the stored index is kept.
	out, err = e.run(t, "rebuild", "md5", "--items", items, "-o", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Equal(t, false, results[0]["committed"])
	assert.EqualValues(t, 0, results[0]["items"])
}

func TestRebuildIncremental(t *testing.T) {
	e := newEnv(t)

	first := e.writeItems(t, "first.jsonl",
		`{"id":1,"timestamp":100,"hashes":["a"]}`,
	)
	_, err := e.run(t, "rebuild", "md5", "--items", first)
	require.NoError(t, err)

	second := e.writeItems(t, "second.jsonl",
		`{"id":1,"timestamp":100,"hashes":["a"]}`,
		`{"id":2,"timestamp":200,"hashes":["b"]}`,
	)
	out, err := e.run(t, "rebuild", "md5", "--items", second, "-o", "json")
	require.NoError(t, err)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	assert.Equal(t, false, results[0]["full"])
	assert.EqualValues(t, 1, results[0]["items"])
	assert.EqualValues(t, 2, results[0]["signal_count"])

	// Exactly one blob remains after the swap.
	store, err := blobstore.NewLocalStore(filepath.Join(e.dir, "blobs"))
	require.NoError(t, err)
	infos, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestRebuildNonMonotonic(t *testing.T) {
	e := newEnv(t)
	items := e.writeItems(t, "items.jsonl",
		`{"id":2,"timestamp":200,"hashes":["a"]}`,
		`{"id":1,"timestamp":100,"hashes":["b"]}`,
	)

	_, err := e.run(t, "rebuild", "md5", "--items", items)
	require.ErrorIs(t, err, sigindex.ErrNonMonotonic)

	out, err := e.run(t, "liveness", "md5")
	require.NoError(t, err)
	assert.Equal(t, "md5: not live\n", out)
}

func TestRebuildRequiresItems(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "rebuild", "md5")
	require.ErrorIs(t, err, commands.ErrMissingItems)
}

func TestRebuildRejectsNegativeIDs(t *testing.T) {
	e := newEnv(t)
	items := e.writeItems(t, "items.jsonl",
		`{"id":1,"timestamp":100,"hashes":["a"]}`,
		`{"id":-2,"timestamp":200,"hashes":["b"]}`,
	)

	_, err := e.run(t, "rebuild", "md5", "--items", items)
	require.ErrorIs(t, err, commands.ErrNegativeItemID)
	assert.Contains(t, err.Error(), "item 2")

	out, err := e.run(t, "liveness", "md5")
	require.NoError(t, err)
	assert.Equal(t, "md5: not live\n", out)
}

func TestDisable(t *testing.T) {
	e := newEnv(t)
	items := e.writeItems(t, "items.jsonl", `{"id":1,"timestamp":100,"hashes":["a"]}`)

	_, err := e.run(t, "rebuild", "md5", "--items", items)
	require.NoError(t, err)

	out, err := e.run(t, "disable", "md5", "unknown")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled md5")
	assert.Contains(t, out, "unknown: not enabled")

	_, err = e.run(t, "liveness", "md5", "--fail")
	require.ErrorIs(t, err, commands.ErrNotLive)

	_, err = e.run(t, "inspect", "md5")
	require.ErrorIs(t, err, sigindex.ErrNotBuilt)

	store, err := blobstore.NewLocalStore(filepath.Join(e.dir, "blobs"))
	require.NoError(t, err)
	infos, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestReconcile(t *testing.T) {
	e := newEnv(t)
	items := e.writeItems(t, "items.jsonl", `{"id":1,"timestamp":100,"hashes":["a"]}`)

	_, err := e.run(t, "rebuild", "md5", "--items", items)
	require.NoError(t, err)

	store, err := blobstore.NewLocalStore(filepath.Join(e.dir, "blobs"))
	require.NoError(t, err)
	orphan, err := store.Create(context.Background(), strings.NewReader("orphan"))
	require.NoError(t, err)

	// The orphan is fresh, so the default min age protects it.
	out, err := e.run(t, "reconcile", "-o", "json")
	require.NoError(t, err)
	var report sigindex.ReconcileReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Referenced)
	require.Len(t, report.Skipped, 1)
	assert.Empty(t, report.Deleted)

	out, err = e.run(t, "reconcile", "--min-age=-1s", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, string(orphan))
	assert.Contains(t, out, "orphan")

	out, err = e.run(t, "reconcile", "--min-age=-1s", "-o", "json")
	require.NoError(t, err)
	report = sigindex.ReconcileReport{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, []blobstore.Handle{orphan}, report.Deleted)
	assert.EqualValues(t, len("orphan"), report.ReclaimedBytes)

	ok, err := store.Exists(context.Background(), orphan)
	require.NoError(t, err)
	assert.False(t, ok)

	out, err = e.run(t, "liveness", "md5")
	require.NoError(t, err)
	assert.Equal(t, "md5: live\n", out)
}

func TestMetricsTextfile(t *testing.T) {
	e := newEnv(t)

	items := e.writeItems(t, "items.jsonl", `{"id":1,"timestamp":100,"hashes":["a"]}`)

	_, err := e.run(t, "rebuild", "md5", "--items", items)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(e.dir, "sigindex.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `sigindex_operations_total{op="commit",signal_type="md5",status="success"} 1`)
}

func TestUnknownOutputFormat(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "status", "-o", "xml")
	require.ErrorIs(t, err, commands.ErrUnknownFormat)
}
