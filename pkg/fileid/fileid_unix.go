//go:build unix

package fileid

import (
	"os"
	"syscall"

	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// Stat returns the identity of the file at path: (inode, device).
func Stat(path string) (Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Identity{}, errors.Wrap(err, errors.CodeFileRead, "stat failed").WithDetail(path)
	}
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		// Should not happen on a unix build; fall back to size+mtime.
		return Identity{hi: uint64(info.Size()), lo: uint64(info.ModTime().UnixNano())}, nil
	}
	return Identity{hi: sys.Ino, lo: uint64(sys.Dev)}, nil
}
