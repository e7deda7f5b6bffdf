package output

import (
	"bytes"
	"encoding/json"
)

// JSONFormatter writes the Result as one indented JSON document.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Result) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(withRows(r))
}

// withRows returns r with a non-nil Rows slice so empty listings encode as [].
func withRows(r *Result) *Result {
	if r.Rows != nil {
		return r
	}
	cp := *r
	cp.Rows = []Row{}
	return &cp
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

var _ Formatter = (*JSONFormatter)(nil)
