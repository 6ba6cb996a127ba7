package agent

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/pkg/errors"
	"github.com/turtacn/LogPipe-Agents/pkg/fileid"
)

// pathFile is the runtime tailing state of one monitored file.  The cursor is
// a byte offset that only ever advances past fully terminated lines; the
// identity detects rotation.  State lives in memory only — after a restart,
// tailing resumes from the configured cursor (default 0).
type pathFile struct {
	name   string
	path   string
	cursor int64
	id     fileid.Identity
}

// readBatch reads up to maxRows newline-terminated lines starting at the
// cursor and advances the cursor past what was consumed.  A trailing partial
// line (no newline yet) is left for a later pass, so a line is never seen
// half-written.
func (pf *pathFile) readBatch(maxRows int) ([]string, error) {
	f, err := os.Open(pf.path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeFileRead, "open failed").WithDetail(pf.path)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(pf.cursor, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, errors.CodeFileRead, "seek failed").WithDetail(pf.path)
	}

	reader := bufio.NewReader(f)
	var lines []string
	for len(lines) < maxRows {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial trailing line: do not consume, do not advance.
			break
		}
		if err != nil {
			return lines, errors.Wrap(err, errors.CodeFileRead, "read failed").WithDetail(pf.path)
		}
		pf.cursor += int64(len(line))
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}
	return lines, nil
}

// readRemainingOld recovers the tail of a rotated file: among the siblings
// matching "<name>*" in the parent directory, sorted by modification time,
// it finds the one that still carries the previously observed identity and
// reads it from the cursor to EOF.  When no sibling matches, the bytes are
// gone — a warning is logged and the batch is dropped.
func (pf *pathFile) readRemainingOld(logger logging.Logger) []string {
	dir := filepath.Dir(pf.path)
	base := filepath.Base(pf.path)

	candidates, err := filepath.Glob(filepath.Join(dir, base+"*"))
	if err != nil {
		logger.Warn("rotation scan failed", logging.String("path", pf.path), logging.Err(err))
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return mtime(candidates[i]).Before(mtime(candidates[j]))
	})

	var oldPath string
	for _, candidate := range candidates {
		if candidate == pf.path {
			continue
		}
		id, err := fileid.Stat(candidate)
		if err != nil {
			continue
		}
		if id.Equal(pf.id) {
			oldPath = candidate
			break
		}
	}
	if oldPath == "" {
		logger.Warn("no predecessor found for rotated file, data may be lost",
			logging.String("path", pf.path))
		return nil
	}

	f, err := os.Open(oldPath)
	if err != nil {
		logger.Warn("cannot open predecessor file", logging.String("path", oldPath), logging.Err(err))
		return nil
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(pf.cursor, io.SeekStart); err != nil {
		logger.Warn("cannot seek predecessor file", logging.String("path", oldPath), logging.Err(err))
		return nil
	}

	// The predecessor will never grow again, so its unterminated tail line
	// (if any) is complete and is consumed too.
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("error reading predecessor file", logging.String("path", oldPath), logging.Err(err))
	}

	logger.Info("recovered lines from rotated file",
		logging.String("old_path", oldPath),
		logging.Int("lines", len(lines)),
	)
	return lines
}

func mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
