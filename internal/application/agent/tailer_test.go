package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/pkg/fileid"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestReadBatchAdvancesCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "one\ntwo\nthree\n")

	pf := &pathFile{name: "app", path: path}
	lines, err := pf.readBatch(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Equal(t, int64(14), pf.cursor)

	// Nothing new: no lines, cursor unchanged.
	lines, err = pf.readBatch(10)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assert.Equal(t, int64(14), pf.cursor)

	appendFile(t, path, "four\n")
	lines, err = pf.readBatch(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"four"}, lines)
	assert.Equal(t, int64(19), pf.cursor)
}

func TestReadBatchRespectsBufferRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "a\nb\nc\nd\ne\n")

	pf := &pathFile{name: "app", path: path}
	lines, err := pf.readBatch(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)

	lines, err = pf.readBatch(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, lines)

	lines, err = pf.readBatch(2)
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, lines)
}

func TestReadBatchLeavesPartialTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	writeFile(t, path, "complete\npart")

	pf := &pathFile{name: "app", path: path}
	lines, err := pf.readBatch(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"complete"}, lines)
	assert.Equal(t, int64(9), pf.cursor, "cursor stops after the last newline")

	// The writer finishes the line: it is consumed in full on the next pass.
	appendFile(t, path, "ial\n")
	lines, err = pf.readBatch(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, lines)
}

func TestReadRemainingOldRecoversRotatedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "old-1\nold-2\nold-3\n")

	pf := &pathFile{name: "app", path: path}
	_, err := pf.readBatch(2) // consume old-1, old-2
	require.NoError(t, err)

	id, err := fileid.Stat(path)
	require.NoError(t, err)
	pf.id = id

	// logrotate: move aside, recreate empty at the same path.
	require.NoError(t, os.Rename(path, path+".1"))
	writeFile(t, path, "")

	lines := pf.readRemainingOld(logging.NewNopLogger())
	assert.Equal(t, []string{"old-3"}, lines)
}

func TestReadRemainingOldNoMatchDropsBatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	writeFile(t, path, "data\n")

	pf := &pathFile{name: "app", path: path}
	id, err := fileid.Stat(path)
	require.NoError(t, err)
	pf.id = id

	// Replace the file without keeping a predecessor.
	require.NoError(t, os.Remove(path))
	writeFile(t, path, "fresh\n")

	// The stored identity matches nothing in the directory now.
	pf.id = fileid.Identity{}
	assert.Empty(t, pf.readRemainingOld(logging.NewNopLogger()))
}

func TestReadBatchMissingFile(t *testing.T) {
	pf := &pathFile{name: "app", path: filepath.Join(t.TempDir(), "absent.log")}
	_, err := pf.readBatch(10)
	assert.Error(t, err)
}
