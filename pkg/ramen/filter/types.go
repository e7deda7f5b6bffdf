// Package filter selects, orders and limits stored records for listings.
// It works on any record stream, typically the path-ordered output of
// store.List.
package filter

import (
	"errors"
	"fmt"
	"strings"
)

// SortField specifies the field to sort records by.
type SortField int

const (
	// SortPath keeps store order.
	SortPath SortField = iota
	// SortSize sorts by size in bytes. Unknown sizes sort lowest.
	SortSize
	// SortAge sorts by modification time, oldest first when ascending.
	SortAge
	// SortName sorts by base name.
	SortName
)

var sortFieldNames = map[SortField]string{
	SortPath: "path",
	SortSize: "size",
	SortAge:  "age",
	SortName: "name",
}

// String returns the flag spelling of the sort field.
func (s SortField) String() string {
	if name, ok := sortFieldNames[s]; ok {
		return name
	}
	return "path"
}

// ErrInvalidSortField indicates that the sort field string could not be parsed.
var ErrInvalidSortField = errors.New("invalid sort field")

// ParseSortField parses "path", "size", "age" or "name" (case-insensitive).
func ParseSortField(s string) (SortField, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for field, name := range sortFieldNames {
		if name == want {
			return field, nil
		}
	}
	return SortPath, fmt.Errorf("%w: %q", ErrInvalidSortField, s)
}

// Kind restricts records to files or folders.
type Kind int

const (
	KindAll Kind = iota
	KindFiles
	KindFolders
)

// TypeGroups maps type group names to file extensions.
var TypeGroups = map[string][]string{
	"archive":  {".zip", ".tar", ".gz", ".bz2", ".xz", ".7z", ".rar", ".tgz", ".iso"},
	"document": {".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".odt", ".rtf", ".txt", ".md"},
	"image":    {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".webp", ".svg"},
	"video":    {".mp4", ".mkv", ".avi", ".mov", ".wmv", ".webm", ".mpeg"},
	"config":   {".conf", ".cfg", ".ini", ".yaml", ".yml", ".toml", ".env", ".properties"},
	"key":      {".pem", ".key", ".p12", ".pfx", ".kdbx", ".ovpn"},
}
