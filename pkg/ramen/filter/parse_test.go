package filter

import (
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "30d", want: 30 * Day},
		{input: "2w", want: 2 * Week},
		{input: "3MO", want: 3 * Month},
		{input: "1y", want: Year},
		{input: "1.5d", want: 36 * time.Hour},
		{input: " 90m ", want: 90 * time.Minute},
		{input: "1h30m", want: 90 * time.Minute},
		{input: "", wantErr: true},
		{input: "soon", wantErr: true},
		{input: "-1d", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
	if _, err := ParseDuration("-2w"); !errors.Is(err, ErrNegativeValue) {
		t.Errorf("ParseDuration(-2w) error = %v, want ErrNegativeValue", err)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "bytes", input: "1024", want: 1024},
		{name: "zero", input: "0", want: 0},
		{name: "short kilobytes", input: "100K", want: 100 * 1024},
		{name: "short lowercase", input: "50m", want: 50 * 1024 * 1024},
		{name: "short gigabytes", input: "2G", want: 2 << 30},
		{name: "iec", input: "3GiB", want: 3 << 30},
		{name: "si", input: "1.5GB", want: 1_500_000_000},
		{name: "decimal short", input: "1.5M", want: 1536 * 1024},
		{name: "whitespace", input: "  100K  ", want: 100 * 1024},
		{name: "empty", input: "", wantErr: true},
		{name: "invalid", input: "abc", wantErr: true},
		{name: "negative", input: "-100M", wantErr: true},
		{name: "no number", input: "M", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseSortField(t *testing.T) {
	for _, name := range []string{"path", "size", "age", "name"} {
		f, err := ParseSortField(name)
		if err != nil {
			t.Fatalf("ParseSortField(%q) error = %v", name, err)
		}
		if f.String() != name {
			t.Errorf("round trip %q = %q", name, f.String())
		}
	}
	if _, err := ParseSortField("Size"); err != nil {
		t.Errorf("ParseSortField is case sensitive: %v", err)
	}
	if _, err := ParseSortField("colour"); !errors.Is(err, ErrInvalidSortField) {
		t.Errorf("ParseSortField(colour) error = %v", err)
	}
}
