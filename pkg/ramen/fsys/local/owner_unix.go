//go:build unix

package local

import (
	"os"
	"syscall"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
)

// ownership resolves owner and group names, falling back to numeric ids.
func (l *FS) ownership(info os.FileInfo) (owner, group string) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return entry.Unknown, entry.Unknown
	}
	return l.names.user(st.Uid), l.names.group(st.Gid)
}
