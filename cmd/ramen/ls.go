package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/filter"
	"github.com/jamesainslie/ramen/pkg/ramen/output"
	"github.com/jamesainslie/ramen/pkg/ramen/store"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls HOST PRODUCT [PREFIX]",
	Short: "List stored entries of a target",
	Long: `List the folders and files stored for one host and product, in path
order. PREFIX restricts the listing to a folder and everything below it.

Examples:
  ramen ls nas01 ftp /pub
  ramen ls nas01 webdav --files --min-size 1G --sort size --desc
  ramen ls web01 http --older-than 1y -o json
  ramen ls nas01 ftp --field secrets --type key

Output formats: ` + strings.Join(output.Available(), ", "),
	Args: cobra.RangeArgs(2, 3),
	RunE: runLs,
}

var lsOpts struct {
	output    string
	template  string
	limit     int
	files     bool
	folders   bool
	minSize   string
	include   []string
	exclude   []string
	ext       []string
	types     []string
	olderThan string
	newerThan string
	depth     int
	field     string
	sort      string
	desc      bool
}

func init() {
	f := lsCmd.Flags()
	f.StringVarP(&lsOpts.output, "output", "o", "pretty", "output format")
	f.StringVar(&lsOpts.template, "template", "", "Go template (with -o template)")
	f.IntVarP(&lsOpts.limit, "limit", "l", 0, "maximum number of entries (0=all)")
	f.BoolVar(&lsOpts.files, "files", false, "list files only")
	f.BoolVar(&lsOpts.folders, "folders", false, "list folders only")
	f.StringVar(&lsOpts.minSize, "min-size", "", "minimum size (e.g. 500K, 1G)")
	f.StringSliceVar(&lsOpts.include, "include", nil, "only entries matching these globs")
	f.StringSliceVar(&lsOpts.exclude, "exclude", nil, "skip entries matching these globs")
	f.StringSliceVar(&lsOpts.ext, "ext", nil, "only files with these extensions")
	f.StringSliceVar(&lsOpts.types, "type", nil, "only files of these type groups ("+typeGroupNames()+")")
	f.StringVar(&lsOpts.olderThan, "older-than", "", "modified more than this long ago (e.g. 30d, 1y)")
	f.StringVar(&lsOpts.newerThan, "newer-than", "", "modified less than this long ago (e.g. 12h, 2w)")
	f.IntVar(&lsOpts.depth, "depth", 0, "maximum depth below PREFIX (0=unlimited)")
	f.StringVar(&lsOpts.field, "field", "", "only entries carrying this plugin field")
	f.StringVar(&lsOpts.sort, "sort", "path", "sort by path, size, age or name")
	f.BoolVar(&lsOpts.desc, "desc", false, "sort descending")
	lsCmd.MarkFlagsMutuallyExclusive("files", "folders")
	rootCmd.AddCommand(lsCmd)
}

func typeGroupNames() string {
	names := make([]string, 0, len(filter.TypeGroups))
	for name := range filter.TypeGroups {
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}

// buildFilter turns the ls flags into a filter rooted at prefix.
func buildFilter(prefix string) (*filter.Filter, error) {
	sortBy, err := filter.ParseSortField(lsOpts.sort)
	if err != nil {
		return nil, err
	}
	opts := []filter.Option{
		filter.WithBase(prefix),
		filter.WithLimit(lsOpts.limit),
		filter.WithInclude(lsOpts.include...),
		filter.WithExclude(lsOpts.exclude...),
		filter.WithExtensions(lsOpts.ext...),
		filter.WithTypeGroups(lsOpts.types...),
		filter.WithMaxDepth(lsOpts.depth),
		filter.WithField(lsOpts.field),
		filter.WithSort(sortBy, lsOpts.desc),
	}
	switch {
	case lsOpts.files:
		opts = append(opts, filter.WithKind(filter.KindFiles))
	case lsOpts.folders:
		opts = append(opts, filter.WithKind(filter.KindFolders))
	}
	if lsOpts.minSize != "" {
		n, err := filter.ParseSize(lsOpts.minSize)
		if err != nil {
			return nil, fmt.Errorf("--min-size: %w", err)
		}
		opts = append(opts, filter.WithMinSize(n))
	}
	if lsOpts.olderThan != "" {
		d, err := filter.ParseDuration(lsOpts.olderThan)
		if err != nil {
			return nil, fmt.Errorf("--older-than: %w", err)
		}
		opts = append(opts, filter.WithOlderThan(d))
	}
	if lsOpts.newerThan != "" {
		d, err := filter.ParseDuration(lsOpts.newerThan)
		if err != nil {
			return nil, fmt.Errorf("--newer-than: %w", err)
		}
		opts = append(opts, filter.WithNewerThan(d))
	}
	return filter.New(opts...)
}

func runLs(_ *cobra.Command, args []string) error {
	host, product := args[0], strings.ToLower(args[1])
	prefix := "/"
	if len(args) == 3 {
		prefix = entry.Clean(args[2])
	}

	var formatter output.Formatter
	if lsOpts.output == "template" && lsOpts.template != "" {
		formatter = output.NewTemplateFormatter(lsOpts.template)
	} else {
		f, err := output.Get(lsOpts.output)
		if err != nil {
			return err
		}
		formatter = f
	}

	flt, err := buildFilter(prefix)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	result, err := listSubtree(st, host, product, prefix, flt)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, result); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	_, err = buf.WriteTo(os.Stdout)
	return err
}

var errLimit = errors.New("limit reached")

// listSubtree collects the entries of host/product below prefix that pass
// flt. Path-ordered listings stop reading once the limit is reached.
func listSubtree(st *store.Store, host, product, prefix string, flt *filter.Filter) (*output.Result, error) {
	result := &output.Result{Host: host, Product: product, Prefix: prefix}

	subtrees, err := st.Subtrees(host)
	if err != nil {
		return nil, err
	}
	found := false
	for _, info := range subtrees {
		if info.Product == product {
			found = true
			result.LastCommit = info.LastCommit
		}
	}
	if !found {
		return nil, fmt.Errorf("%s/%s has not been crawled", host, product)
	}

	var matched []*entry.Record
	err = st.List(host, product, prefix, func(rec *entry.Record) error {
		if !flt.Match(rec) {
			return nil
		}
		matched = append(matched, rec)
		if flt.Streaming() && flt.Limit > 0 && len(matched) >= flt.Limit {
			return errLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return nil, err
	}

	if !flt.Streaming() {
		matched = flt.Apply(matched)
	}
	for _, rec := range matched {
		result.Add(rec)
	}
	return result, nil
}
