//go:build !unix

package local

import (
	"os"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
)

func (l *FS) ownership(os.FileInfo) (owner, group string) {
	return entry.Unknown, entry.Unknown
}
