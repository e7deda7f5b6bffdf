package fsys

import (
	"context"
	"io"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
)

// ReadDirFunc lists one folder, returning child folder and file names.
type ReadDirFunc func(ctx context.Context, dir string) (dirs, files []string, err error)

// TreeWalker is a depth-first, top-down Walker over any protocol with a
// native folder listing. Folders are read lazily, one per Next.
type TreeWalker struct {
	ctx   context.Context
	read  ReadDirFunc
	stack []string
	last  *Step
}

// NewTreeWalker starts a walk at root.
func NewTreeWalker(ctx context.Context, root string, read ReadDirFunc) *TreeWalker {
	return &TreeWalker{
		ctx:   ctx,
		read:  read,
		stack: []string{entry.Clean(root)},
	}
}

// Next implements Walker.
func (w *TreeWalker) Next() (*Step, error) {
	// Children of the previous step are pushed only now so the caller can
	// prune Dirs in between. Reverse order keeps pops sorted.
	if w.last != nil {
		for i := len(w.last.Dirs) - 1; i >= 0; i-- {
			w.stack = append(w.stack, entry.Join(w.last.Path, w.last.Dirs[i]))
		}
		w.last = nil
	}

	if err := w.ctx.Err(); err != nil {
		return nil, err
	}

	if len(w.stack) == 0 {
		return nil, io.EOF
	}

	dir := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]

	dirs, files, err := w.read(w.ctx, dir)
	if err != nil {
		return nil, &WalkError{Path: dir, Err: err}
	}

	w.last = &Step{Path: dir, Dirs: dirs, Files: files}
	return w.last, nil
}

// SliceWalker replays a precomputed list of steps. Adapters that must
// discover their tree up front use it to satisfy Walker.
type SliceWalker struct {
	ctx   context.Context
	steps []*Step
	index map[string]*Step
	fill  func() ([]*Step, error)
	done  bool
	pos   int
}

// NewSliceWalker returns a walker that calls fill on the first Next.
func NewSliceWalker(ctx context.Context, fill func() ([]*Step, error)) *SliceWalker {
	return &SliceWalker{ctx: ctx, fill: fill}
}

// Next implements Walker. Pruning Dirs has no effect on a replayed walk
// other than skipping the pruned folders' own steps.
func (w *SliceWalker) Next() (*Step, error) {
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}

	if !w.done {
		w.done = true
		steps, err := w.fill()
		if err != nil {
			return nil, &WalkError{Path: "/", Err: err}
		}
		w.steps = steps
		w.index = make(map[string]*Step, len(steps))
		for _, s := range steps {
			w.index[s.Path] = s
		}
	}

	for w.pos < len(w.steps) {
		step := w.steps[w.pos]
		w.pos++
		if w.pruned(step.Path) {
			continue
		}
		return step, nil
	}
	return nil, io.EOF
}

// pruned reports whether an ancestor step dropped p from its Dirs.
func (w *SliceWalker) pruned(p string) bool {
	parent := entry.Parent(p)
	if parent == "" {
		return false
	}
	s, ok := w.index[parent]
	if !ok {
		return false
	}
	name := entry.Base(p)
	for _, d := range s.Dirs {
		if d == name {
			return w.pruned(parent)
		}
	}
	return true
}
