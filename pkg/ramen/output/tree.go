package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jamesainslie/ramen/pkg/ramen/entry"
)

// Node is a folder or file in a rendered tree.
type Node struct {
	Path  string
	Name  string
	IsDir bool

	// Size is the entry's own size, or entry.SizeUnknown.
	Size int64
	// Total sums the known sizes of files underneath a folder.
	Total int64

	Children []*Node
	Parent   *Node
}

// AddChild adds a child node and sets this node as the child's parent.
func (n *Node) AddChild(child *Node) {
	child.Parent = n
	n.Children = append(n.Children, child)
}

// Depth returns the depth of this node from the root (root = 0).
func (n *Node) Depth() int {
	depth := 0
	for p := n.Parent; p != nil; p = p.Parent {
		depth++
	}
	return depth
}

// BuildTree arranges rows below root into a tree. Folders missing from
// rows, as in a filtered listing, are created so every row has a parent.
// Children keep the order of rows.
func BuildTree(root string, rows []Row) *Node {
	root = entry.Clean(root)
	rootNode := &Node{Path: root, Name: entry.Base(root), IsDir: true, Size: entry.SizeUnknown}
	nodes := map[string]*Node{root: rootNode}

	for _, row := range rows {
		p := entry.Clean(row.Path)
		if p == root {
			rootNode.Size = row.Size
			continue
		}
		if !under(root, p) {
			continue
		}
		parent := ensureAncestors(root, entry.Parent(p), nodes)

		if n, ok := nodes[p]; ok {
			// A folder created as an ancestor before its own row.
			n.Size = row.Size
			continue
		}
		n := &Node{Path: p, Name: row.Name, IsDir: row.IsDir, Size: row.Size}
		parent.AddChild(n)
		nodes[p] = n
	}

	aggregate(rootNode)
	return rootNode
}

func under(root, p string) bool {
	return root == "/" || strings.HasPrefix(p, root+"/")
}

// ensureAncestors returns the node for dir, creating it and any missing
// folders between it and the root.
func ensureAncestors(root, dir string, nodes map[string]*Node) *Node {
	if n, ok := nodes[dir]; ok {
		return n
	}
	parent := ensureAncestors(root, entry.Parent(dir), nodes)
	n := &Node{Path: dir, Name: entry.Base(dir), IsDir: true, Size: entry.SizeUnknown}
	parent.AddChild(n)
	nodes[dir] = n
	return n
}

// aggregate fills Total bottom-up.
func aggregate(n *Node) int64 {
	if !n.IsDir {
		if n.Size > 0 {
			return n.Size
		}
		return 0
	}
	n.Total = 0
	for _, c := range n.Children {
		n.Total += aggregate(c)
	}
	return n.Total
}

// TreeFormatter draws the listing as an indented tree with folder totals.
type TreeFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TreeFormatter) Format(w *bytes.Buffer, r *Result) error {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "/"
	}
	root := BuildTree(prefix, r.Rows)

	fmt.Fprintf(w, "%s  %s\n", DirStyle.Render(root.Path), MutedStyle.Render(humanize.IBytes(uint64(root.Total))))
	writeChildren(w, root, "")
	fmt.Fprintf(w, "\n%d folders, %d files\n", r.Stats.Folders, r.Stats.Files)
	return nil
}

func writeChildren(w *bytes.Buffer, n *Node, indent string) {
	for i, c := range n.Children {
		branch, next := "├── ", "│   "
		if i == len(n.Children)-1 {
			branch, next = "└── ", "    "
		}
		if c.IsDir {
			fmt.Fprintf(w, "%s%s%s  %s\n", indent, branch, DirStyle.Render(c.Name+"/"),
				MutedStyle.Render(humanize.IBytes(uint64(c.Total))))
			writeChildren(w, c, indent+next)
			continue
		}
		size := unknownField
		if c.Size != entry.SizeUnknown {
			size = humanize.IBytes(uint64(c.Size))
		}
		fmt.Fprintf(w, "%s%s%s  %s\n", indent, branch, c.Name, size)
	}
}

func init() {
	Register("tree", func() Formatter {
		return &TreeFormatter{}
	})
}

var _ Formatter = (*TreeFormatter)(nil)
