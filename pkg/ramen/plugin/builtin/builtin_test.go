package builtin_test

import (
	"context"
	"strings"
	"testing"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/local"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin/builtin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) *local.FS {
	t.Helper()
	mem := afero.NewMemMapFs()
	for _, d := range []string{"/etc", "/mail", "/big"} {
		require.NoError(t, mem.MkdirAll(d, 0o755))
	}
	files := map[string]string{
		"/hello.txt":       "hello world",
		"/etc/app.ini":     "[db]\nuser=app\npassword = s3cret\nPass_Phrase: open sesame\n",
		"/etc/notes.txt":   "password=not inspected",
		"/mail/memo.EML":   "Subject: hi\nno credentials here\n",
		"/big/archive.bin": strings.Repeat("x", 4096),
	}
	for p, body := range files {
		require.NoError(t, afero.WriteFile(mem, p, []byte(body), 0o644))
	}
	return local.NewWithFs(mem)
}

func fileRecord(t *testing.T, fs *local.FS, p string) *entry.Record {
	t.Helper()
	st, isDir, err := fs.Stat(context.Background(), p)
	require.NoError(t, err)
	return entry.New("localhost", local.Product, p, isDir, st)
}

func TestHash(t *testing.T) {
	fs := fixture(t)
	tests := []struct {
		algo string
		want string
	}{
		{"", "5eb63bbbe01eeed093cb22bb8f5acdc3"},
		{"sha1", "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"},
		{"sha256", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
	}

	for _, tt := range tests {
		t.Run("algo="+tt.algo, func(t *testing.T) {
			h, err := builtin.NewHash(builtin.HashConfig{Algorithm: tt.algo})
			require.NoError(t, err)

			rec := fileRecord(t, fs, "/hello.txt")
			require.NoError(t, h.Run(context.Background(), rec, fs))

			key := tt.algo
			if key == "" {
				key = "md5"
			}
			got, ok := rec.Field(key)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHashSkips(t *testing.T) {
	fs := fixture(t)
	h, err := builtin.NewHash(builtin.HashConfig{MaxSize: 1024})
	require.NoError(t, err)

	big := fileRecord(t, fs, "/big/archive.bin")
	require.NoError(t, h.Run(context.Background(), big, fs))
	assert.Empty(t, big.Fields)

	dir := fileRecord(t, fs, "/etc")
	require.NoError(t, h.Run(context.Background(), dir, fs))
	assert.Empty(t, dir.Fields)

	// Unknown size is checked while reading.
	unsized := fileRecord(t, fs, "/big/archive.bin")
	unsized.Stat.Size = entry.SizeUnknown
	require.NoError(t, h.Run(context.Background(), unsized, fs))
	assert.Empty(t, unsized.Fields)

	_, err = builtin.NewHash(builtin.HashConfig{Algorithm: "crc32"})
	assert.Error(t, err)
}

func TestSecrets(t *testing.T) {
	fs := fixture(t)
	s, err := builtin.NewSecrets(builtin.SecretsConfig{})
	require.NoError(t, err)

	tests := []struct {
		path  string
		match bool
		found string
	}{
		{path: "/etc/app.ini", match: true, found: "password = s3cret\nPass_Phrase: open sesame"},
		{path: "/mail/memo.EML", match: true},
		{path: "/etc/notes.txt", match: false},
		{path: "/etc", match: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := fileRecord(t, fs, tt.path)
			assert.Equal(t, tt.match, s.Match(rec))
			if !tt.match {
				return
			}
			require.NoError(t, s.Run(context.Background(), rec, fs))
			got, ok := rec.Field(builtin.SecretsField)
			assert.Equal(t, tt.found != "", ok)
			assert.Equal(t, tt.found, got)
		})
	}

	_, err = builtin.NewSecrets(builtin.SecretsConfig{Patterns: []string{"[unclosed"}})
	assert.Error(t, err)
}

func TestCatalogPipeline(t *testing.T) {
	fs := fixture(t)
	reg, errs := plugin.Load(
		[]string{builtin.HashName},
		[]string{builtin.SecretsName},
		builtin.Catalog(builtin.Config{}),
	)
	require.Empty(t, errs)

	out := reg.Pipeline().Run(context.Background(), fileRecord(t, fs, "/etc/app.ini"), fs)
	_, hasMD5 := out.Field("md5")
	_, hasSecrets := out.Field(builtin.SecretsField)
	assert.True(t, hasMD5)
	assert.True(t, hasSecrets)

	// A file that disappears between stat and hash passes through unchanged.
	gone := fileRecord(t, fs, "/hello.txt")
	gone.Path = "/vanished.txt"
	out = reg.Pipeline().Run(context.Background(), gone, fs)
	assert.Empty(t, out.Fields)
}
