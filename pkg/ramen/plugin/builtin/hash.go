// Package builtin provides the plugins shipped with ramen.
package builtin

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin"
)

// HashName is the catalog name of the hash action.
const HashName = "hash"

const chunkSize = 64 << 10

// HashConfig configures the hash action.
type HashConfig struct {
	// Algorithm is md5, sha1 or sha256.
	Algorithm string `mapstructure:"algorithm"`
	// MaxSize skips files larger than this many bytes. Zero means no limit.
	MaxSize int64 `mapstructure:"max_size"`
}

// Hash stores a content digest of every file under Fields[algorithm].
type Hash struct {
	algo    string
	newHash func() hash.Hash
	maxSize int64
}

// NewHash returns a hash action.
func NewHash(cfg HashConfig) (*Hash, error) {
	algo := cfg.Algorithm
	if algo == "" {
		algo = "md5"
	}
	var h func() hash.Hash
	switch algo {
	case "md5":
		h = md5.New
	case "sha1":
		h = sha1.New
	case "sha256":
		h = sha256.New
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", cfg.Algorithm)
	}
	return &Hash{algo: algo, newHash: h, maxSize: cfg.MaxSize}, nil
}

// Name implements plugin.Action.
func (h *Hash) Name() string { return HashName }

// Run implements plugin.Action.
func (h *Hash) Run(ctx context.Context, rec *entry.Record, fs fsys.Filesystem) error {
	if rec.IsDir {
		return nil
	}
	if h.maxSize > 0 && rec.Stat.HasSize() && rec.Stat.Size > h.maxSize {
		return nil
	}

	rc, err := fs.Open(ctx, rec.Path)
	if err != nil {
		return err
	}
	defer rc.Close()

	sum := h.newHash()
	buf := make([]byte, chunkSize)
	var read int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := rc.Read(buf)
		if n > 0 {
			sum.Write(buf[:n])
			read += int64(n)
			if h.maxSize > 0 && read > h.maxSize {
				// Size was unknown up front and turned out too large.
				return nil
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", rec.Path, err)
		}
	}

	rec.Set(h.algo, hex.EncodeToString(sum.Sum(nil)))
	return nil
}

var _ plugin.Action = (*Hash)(nil)
