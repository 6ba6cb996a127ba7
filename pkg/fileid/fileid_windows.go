//go:build windows

package fileid

import (
	"os"
	"syscall"

	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// Stat returns the identity of the file at path: (size, creation time).
// Windows reuses "file IDs" aggressively across deletes, so creation time is
// the more stable rotation discriminator available through the stat surface.
func Stat(path string) (Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Identity{}, errors.Wrap(err, errors.CodeFileRead, "stat failed").WithDetail(path)
	}
	if sys, ok := info.Sys().(*syscall.Win32FileAttributeData); ok {
		return Identity{hi: uint64(info.Size()), lo: uint64(sys.CreationTime.Nanoseconds())}, nil
	}
	return Identity{hi: uint64(info.Size()), lo: uint64(info.ModTime().UnixNano())}, nil
}
