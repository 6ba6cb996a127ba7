//go:build !unix && !windows

package fileid

import (
	"os"

	"github.com/turtacn/LogPipe-Agents/pkg/errors"
)

// Stat returns the identity of the file at path: (size, mtime).
func Stat(path string) (Identity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Identity{}, errors.Wrap(err, errors.CodeFileRead, "stat failed").WithDetail(path)
	}
	return Identity{hi: uint64(info.Size()), lo: uint64(info.ModTime().UnixNano())}, nil
}
