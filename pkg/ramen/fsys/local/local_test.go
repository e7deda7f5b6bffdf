package local_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/local"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFS(t *testing.T) afero.Fs {
	t.Helper()
	afs := afero.NewMemMapFs()
	require.NoError(t, afs.MkdirAll("/etc/ssh", 0o755))
	require.NoError(t, afs.MkdirAll("/var", 0o755))
	require.NoError(t, afero.WriteFile(afs, "/etc/hosts", []byte("127.0.0.1 localhost\n"), 0o644))
	require.NoError(t, afero.WriteFile(afs, "/etc/ssh/sshd_config", []byte("Port 22\n"), 0o600))
	require.NoError(t, afero.WriteFile(afs, "/readme", []byte("hi"), 0o644))
	return afs
}

func TestWalkTopDown(t *testing.T) {
	fs := local.NewWithFs(memFS(t))
	w := fs.Walk(context.Background(), "/")

	var steps []fsys.Step
	for {
		step, err := w.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		steps = append(steps, *step)
	}

	require.Len(t, steps, 4)
	assert.Equal(t, "/", steps[0].Path)
	assert.Equal(t, []string{"etc", "var"}, steps[0].Dirs)
	assert.Equal(t, []string{"readme"}, steps[0].Files)
	assert.Equal(t, "/etc", steps[1].Path)
	assert.Equal(t, []string{"hosts"}, steps[1].Files)
	assert.Equal(t, "/etc/ssh", steps[2].Path)
	assert.Equal(t, "/var", steps[3].Path)
}

func TestStat(t *testing.T) {
	fs := local.NewWithFs(memFS(t))
	ctx := context.Background()

	st, isDir, err := fs.Stat(ctx, "/etc/hosts")
	require.NoError(t, err)
	assert.False(t, isDir)
	assert.Equal(t, int64(20), st.Size)
	assert.True(t, st.HasModTime())

	_, isDir, err = fs.Stat(ctx, "")
	require.NoError(t, err)
	assert.True(t, isDir, "empty path should stat the root")

	_, _, err = fs.Stat(ctx, "/missing")
	assert.ErrorIs(t, err, fsys.ErrNotFound)
}

func TestOpen(t *testing.T) {
	fs := local.NewWithFs(memFS(t))

	rc, err := fs.Open(context.Background(), "/readme")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	_, err = fs.Open(context.Background(), "/nope")
	assert.ErrorIs(t, err, fsys.ErrNotFound)
}

func TestValidateAlwaysTrue(t *testing.T) {
	fs := local.NewWithFs(afero.NewMemMapFs())
	assert.True(t, fs.Validate(context.Background(), fsys.Endpoint{Host: "anything"}))
	assert.Equal(t, local.Product, fs.Product())
}

func TestNewRootedOnDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.bin"), []byte{1, 2, 3}, 0o644))

	fs := local.New(local.Config{Root: dir})
	st, isDir, err := fs.Stat(context.Background(), "/data.bin")
	require.NoError(t, err)
	assert.False(t, isDir)
	assert.Equal(t, int64(3), st.Size)
	assert.NotEmpty(t, st.Owner)
}
