// Package fileid computes a platform-specific identity for a file, used to
// detect log rotation: when the file behind a path is replaced, its identity
// changes even though the path does not.
//
// The identity is an opaque pair.  On Unix-like systems it is (inode, device);
// on Windows it is (size, creation time); elsewhere it falls back to
// (size, mtime).  Identities are only ever compared for equality.
package fileid

import "fmt"

// Identity is an opaque platform-specific file identity.  The zero value means
// "not yet observed" and never equals the identity of a real file in practice.
type Identity struct {
	hi uint64
	lo uint64
}

// Equal reports whether two identities refer to the same underlying file.
func (id Identity) Equal(other Identity) bool {
	return id.hi == other.hi && id.lo == other.lo
}

// IsZero reports whether the identity has not been set.
func (id Identity) IsZero() bool {
	return id.hi == 0 && id.lo == 0
}

// String renders the identity for logs.
func (id Identity) String() string {
	return fmt.Sprintf("%d:%d", id.hi, id.lo)
}
