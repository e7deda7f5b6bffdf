package scanner_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys/local"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin"
	"github.com/jamesainslie/ramen/pkg/ramen/scanner"
	"github.com/jamesainslie/ramen/pkg/ramen/store"
	"github.com/jamesainslie/ramen/pkg/ramen/target"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func memStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func diskTarget(t *testing.T) *target.Target {
	t.Helper()
	mem := afero.NewMemMapFs()
	for _, d := range []string{"/etc/ssh", "/var/cache", "/home/u"} {
		require.NoError(t, mem.MkdirAll(d, 0o755))
	}
	for p, body := range map[string]string{
		"/etc/hosts":          "127.0.0.1 localhost\n",
		"/etc/ssh/sshd_cfg":   "Port 22\n",
		"/var/cache/a.tmp":    "junk",
		"/home/u/notes.txt":   "hi",
		"/home/u/scratch.tmp": "x",
	} {
		require.NoError(t, afero.WriteFile(mem, p, []byte(body), 0o644))
	}
	return &target.Target{Host: "box", Product: local.Product, FS: local.NewWithFs(mem)}
}

func newWorker(t *testing.T, s scanner.Sink, mutate func(*scanner.Options)) *scanner.Worker {
	t.Helper()
	opts := scanner.Options{
		Store: s,
		RunID: "run-1",
		Clock: func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&opts)
	}
	w, err := scanner.New(opts)
	require.NoError(t, err)
	return w
}

func storedPaths(t *testing.T, s *store.Store, host, product string) []string {
	t.Helper()
	var out []string
	require.NoError(t, s.List(host, product, "", func(r *entry.Record) error {
		out = append(out, r.Path)
		return nil
	}))
	return out
}

func TestScanStoresWholeTree(t *testing.T) {
	s := memStore(t)
	w := newWorker(t, scanner.StoreSink(s), nil)
	tg := diskTarget(t)

	res, err := w.Scan(context.Background(), tg)
	require.NoError(t, err)
	assert.Equal(t, scanner.StateDone, res.State)
	assert.Equal(t, 7, res.Folders)
	assert.Equal(t, 5, res.Files)
	assert.Zero(t, res.Errors)

	assert.Equal(t, []string{
		"/", "/etc", "/etc/hosts", "/etc/ssh", "/etc/ssh/sshd_cfg",
		"/home", "/home/u", "/home/u/notes.txt", "/home/u/scratch.tmp",
		"/var", "/var/cache", "/var/cache/a.tmp",
	}, storedPaths(t, s, "box", local.Product))

	root, err := s.Get("box", local.Product, "/")
	require.NoError(t, err)
	assert.True(t, root.IsDir)
	assert.Equal(t, "", root.Parent)
	assert.Equal(t, "run-1", root.RunID)
	assert.True(t, root.ScannedAt.Equal(fixedNow))
}

func TestScanIsIdempotent(t *testing.T) {
	s := memStore(t)
	w := newWorker(t, scanner.StoreSink(s), nil)
	tg := diskTarget(t)

	_, err := w.Scan(context.Background(), tg)
	require.NoError(t, err)
	first := snapshot(t, s)

	_, err = w.Scan(context.Background(), tg)
	require.NoError(t, err)
	assert.Equal(t, first, snapshot(t, s))
}

func snapshot(t *testing.T, s *store.Store) map[string]entry.Record {
	t.Helper()
	out := make(map[string]entry.Record)
	require.NoError(t, s.List("box", local.Product, "", func(r *entry.Record) error {
		out[r.Path] = *r
		return nil
	}))
	return out
}

func TestExcludePrunesFolders(t *testing.T) {
	s := memStore(t)
	w := newWorker(t, scanner.StoreSink(s), func(o *scanner.Options) {
		o.Exclude = []string{"/var/**", "/var", "*.tmp"}
	})

	res, err := w.Scan(context.Background(), diskTarget(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Excluded, "/var pruned and scratch.tmp skipped")

	for _, p := range storedPaths(t, s, "box", local.Product) {
		assert.NotContains(t, p, "/var")
		assert.NotContains(t, p, ".tmp")
	}

	_, err = scanner.New(scanner.Options{Store: scanner.StoreSink(s), Exclude: []string{"[bad"}})
	assert.Error(t, err)
}

// scriptedFS replays fixed steps and errors.
type scriptedFS struct {
	steps  []any // *fsys.Step or error
	stat   func(p string) (entry.Stat, error)
	opened int
}

type scriptedWalker struct {
	fs  *scriptedFS
	pos int
	ctx context.Context
}

func (w *scriptedWalker) Next() (*fsys.Step, error) {
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}
	if w.pos >= len(w.fs.steps) {
		return nil, io.EOF
	}
	item := w.fs.steps[w.pos]
	w.pos++
	if err, ok := item.(error); ok {
		return nil, err
	}
	return item.(*fsys.Step), nil
}

func (f *scriptedFS) Product() string                             { return "ftp" }
func (f *scriptedFS) Validate(context.Context, fsys.Endpoint) bool { return true }
func (f *scriptedFS) Stat(_ context.Context, p string) (entry.Stat, bool, error) {
	if f.stat != nil {
		st, err := f.stat(p)
		return st, false, err
	}
	return entry.UnknownStat(), false, nil
}
func (f *scriptedFS) Walk(ctx context.Context, _ string) fsys.Walker {
	return &scriptedWalker{fs: f, ctx: ctx}
}
func (f *scriptedFS) Open(context.Context, string) (io.ReadCloser, error) {
	f.opened++
	return nil, fsys.ErrUnsupported
}
func (f *scriptedFS) Close() error { return nil }

func TestRootNormalizedToSlash(t *testing.T) {
	for _, root := range []string{"", "/", "//", "\\"} {
		t.Run("root="+root, func(t *testing.T) {
			s := memStore(t)
			fs := &scriptedFS{steps: []any{
				&fsys.Step{Path: root, Files: []string{"motd"}},
			}}
			w := newWorker(t, scanner.StoreSink(s), nil)
			_, err := w.Scan(context.Background(), &target.Target{Host: "h", Product: "ftp", FS: fs})
			require.NoError(t, err)
			assert.Equal(t, []string{"/", "/motd"}, storedPaths(t, s, "h", "ftp"))
		})
	}
}

func TestScanContinuesPastErrors(t *testing.T) {
	s := memStore(t)
	fs := &scriptedFS{
		steps: []any{
			&fsys.Step{Path: "/", Dirs: []string{"a", "b"}, Files: []string{"ok", "vanished"}},
			&fsys.WalkError{Path: "/a", Err: errors.New("550 permission denied")},
			&fsys.Step{Path: "/b", Files: []string{"c"}},
		},
		stat: func(p string) (entry.Stat, error) {
			if p == "/vanished" {
				return entry.Stat{}, fsys.ErrNotFound
			}
			return entry.UnknownStat(), nil
		},
	}
	w := newWorker(t, scanner.StoreSink(s), nil)

	res, err := w.Scan(context.Background(), &target.Target{Host: "h", Product: "ftp", FS: fs})
	require.NoError(t, err)
	assert.Equal(t, scanner.StateDone, res.State)
	assert.Equal(t, 2, res.Errors)
	assert.Equal(t, []string{"/", "/b", "/b/c", "/ok"}, storedPaths(t, s, "h", "ftp"))
}

func TestConsecutiveWalkErrorsFailTarget(t *testing.T) {
	s := memStore(t)
	steps := []any{&fsys.Step{Path: "/", Files: []string{"kept"}}}
	for range 10 {
		steps = append(steps, errors.New("connection reset"))
	}
	w := newWorker(t, scanner.StoreSink(s), func(o *scanner.Options) { o.MaxConsecutiveErrors = 3 })

	res, err := w.Scan(context.Background(), &target.Target{Host: "h", Product: "ftp", FS: &scriptedFS{steps: steps}})
	assert.ErrorIs(t, err, scanner.ErrTooManyErrors)
	assert.Equal(t, scanner.StateFailed, res.State)
	assert.Equal(t, 3, res.Errors)
	assert.Equal(t, []string{"/", "/kept"}, storedPaths(t, s, "h", "ftp"), "progress is committed")
}

type faultyPlugin struct{}

func (faultyPlugin) Name() string { return "faulty" }
func (faultyPlugin) Run(_ context.Context, rec *entry.Record, _ fsys.Filesystem) error {
	rec.Set("half", "done")
	if rec.IsDir {
		panic("cannot handle folders")
	}
	return errors.New("cannot handle files")
}

type tagPlugin struct{}

func (tagPlugin) Name() string { return "tag" }
func (tagPlugin) Run(_ context.Context, rec *entry.Record, _ fsys.Filesystem) error {
	rec.Set("tag", "seen")
	return nil
}

func TestPluginFailuresDoNotLoseEntries(t *testing.T) {
	s := memStore(t)
	pipeline := plugin.NewPipeline([]plugin.Action{faultyPlugin{}, tagPlugin{}}, nil)
	w := newWorker(t, scanner.StoreSink(s), func(o *scanner.Options) { o.Pipeline = pipeline })

	res, err := w.Scan(context.Background(), diskTarget(t))
	require.NoError(t, err)
	assert.Equal(t, 12, res.Folders+res.Files)

	require.NoError(t, s.List("box", local.Product, "", func(r *entry.Record) error {
		assert.Equal(t, map[string]string{"tag": "seen"}, r.Fields, r.Path)
		return nil
	}))
}

// memSink records writes and commits, optionally failing.
type memSink struct {
	writes   []string
	commits  int
	failOpen bool
	failAt   int
}

func (m *memSink) Subtree(string, string) (scanner.Writer, error) {
	if m.failOpen {
		return nil, store.ErrUnavailable
	}
	return m, nil
}

func (m *memSink) Write(rec *entry.Record) error {
	if m.failAt > 0 && len(m.writes)+1 >= m.failAt {
		return store.ErrUnavailable
	}
	m.writes = append(m.writes, rec.Path)
	return nil
}

func (m *memSink) Commit() error {
	m.commits++
	return nil
}

func TestStoreFailureIsFatal(t *testing.T) {
	w := newWorker(t, &memSink{failOpen: true}, nil)
	res, err := w.Scan(context.Background(), diskTarget(t))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, scanner.StateFailed, res.State)

	sink := &memSink{failAt: 3}
	w = newWorker(t, sink, nil)
	res, err = w.Scan(context.Background(), diskTarget(t))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, scanner.StateFailed, res.State)
	assert.Len(t, sink.writes, 2)
}

func TestCommitEvery(t *testing.T) {
	sink := &memSink{}
	w := newWorker(t, sink, func(o *scanner.Options) { o.CommitEvery = 5 })
	_, err := w.Scan(context.Background(), diskTarget(t))
	require.NoError(t, err)
	assert.Len(t, sink.writes, 12)
	assert.Equal(t, 3, sink.commits, "two intermediate commits and the final one")
}

// cancellingFS cancels the scan after the first step.
type cancellingFS struct {
	scriptedFS
	cancel context.CancelFunc
}

func (c *cancellingFS) Stat(ctx context.Context, p string) (entry.Stat, bool, error) {
	if p == "/second" {
		c.cancel()
	}
	return c.scriptedFS.Stat(ctx, p)
}

func TestCancelCommitsProgress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := &cancellingFS{cancel: cancel}
	fs.steps = []any{
		&fsys.Step{Path: "/", Dirs: []string{"d"}, Files: []string{"first", "second", "third"}},
		&fsys.Step{Path: "/d", Files: []string{"never"}},
	}
	sink := &memSink{}
	w := newWorker(t, sink, nil)

	res, err := w.Scan(ctx, &target.Target{Host: "h", Product: "ftp", FS: fs})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, scanner.StateCancelled, res.State)
	assert.Equal(t, 1, sink.commits)

	got := append([]string(nil), sink.writes...)
	sort.Strings(got)
	assert.Equal(t, []string{"/", "/first", "/second"}, got)
}
