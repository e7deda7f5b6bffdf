package fsys_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
)

// memTree maps folder paths to their child folders and files.
type memTree map[string][2][]string

func (m memTree) readDir(_ context.Context, dir string) ([]string, []string, error) {
	node, ok := m[dir]
	if !ok {
		return nil, nil, fsys.ErrNotFound
	}
	return node[0], node[1], nil
}

func collect(t *testing.T, w fsys.Walker, prune func(*fsys.Step)) ([]string, []error) {
	t.Helper()
	var paths []string
	var errs []error
	for i := 0; i < 100; i++ {
		step, err := w.Next()
		if errors.Is(err, io.EOF) {
			return paths, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, step.Path)
		if prune != nil {
			prune(step)
		}
	}
	t.Fatal("walk did not terminate")
	return nil, nil
}

func TestTreeWalkerTopDown(t *testing.T) {
	tree := memTree{
		"/":     {{"a", "b"}, {"root.txt"}},
		"/a":    {{"c"}, {"a1"}},
		"/a/c":  {nil, {"deep"}},
		"/b":    {nil, nil},
		"/skip": {nil, nil},
	}

	paths, errs := collect(t, fsys.NewTreeWalker(context.Background(), "/", tree.readDir), nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	want := []string{"/", "/a", "/a/c", "/b"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestTreeWalkerPruneAndErrors(t *testing.T) {
	tree := memTree{
		"/":  {{"a", "broken", "b"}, nil},
		"/a": {{"inner"}, nil},
		"/b": {nil, {"f"}},
	}

	prune := func(s *fsys.Step) {
		if s.Path == "/a" {
			s.Dirs = nil
		}
	}

	paths, errs := collect(t, fsys.NewTreeWalker(context.Background(), "/", tree.readDir), prune)

	if len(errs) != 1 {
		t.Fatalf("errors = %v, want one", errs)
	}
	var werr *fsys.WalkError
	if !errors.As(errs[0], &werr) || werr.Path != "/broken" {
		t.Errorf("error = %v, want WalkError for /broken", errs[0])
	}

	want := []string{"/", "/a", "/b"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestTreeWalkerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := fsys.NewTreeWalker(ctx, "/", memTree{"/": {nil, nil}}.readDir)
	if _, err := w.Next(); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
}

func TestSliceWalkerPrune(t *testing.T) {
	steps := []*fsys.Step{
		{Path: "/", Dirs: []string{"a", "b"}},
		{Path: "/a", Dirs: []string{"x"}},
		{Path: "/a/x"},
		{Path: "/b"},
	}
	calls := 0
	w := fsys.NewSliceWalker(context.Background(), func() ([]*fsys.Step, error) {
		calls++
		return steps, nil
	})

	prune := func(s *fsys.Step) {
		if s.Path == "/" {
			s.Dirs = []string{"b"}
		}
	}

	paths, errs := collect(t, w, prune)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if calls != 1 {
		t.Errorf("fill called %d times, want 1", calls)
	}
	want := []string{"/", "/b"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestRegistry(t *testing.T) {
	r := fsys.NewRegistry()
	r.Register("b", func(string) (fsys.Filesystem, error) { return nil, errors.New("boom") })
	r.Register("a", func(string) (fsys.Filesystem, error) { return nil, nil })
	r.Register("b", func(string) (fsys.Filesystem, error) { return nil, nil })

	products := r.Products()
	if len(products) != 2 || products[0] != "b" || products[1] != "a" {
		t.Errorf("Products() = %v, want [b a]", products)
	}

	if _, err := r.New("b", "host"); err != nil {
		t.Errorf("New(b) error = %v, want replaced factory", err)
	}

	if _, err := r.New("smb", "host"); !errors.Is(err, fsys.ErrUnknownProduct) {
		t.Errorf("New(smb) error = %v, want ErrUnknownProduct", err)
	}
}
