package builtin

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/jamesainslie/ramen/pkg/ramen/entry"
	"github.com/jamesainslie/ramen/pkg/ramen/fsys"
	"github.com/jamesainslie/ramen/pkg/ramen/plugin"
)

// SecretsName is the catalog name of the secrets extension.
const SecretsName = "secrets"

// SecretsField is the record field holding matched lines.
const SecretsField = "secrets"

const (
	maxSecretLines = 16
	maxLineBytes   = 1 << 20
)

var passAssignment = regexp.MustCompile(`(?i)\bpass[a-z_]*\s*[=:]`)

// SecretsConfig configures the secrets extension.
type SecretsConfig struct {
	Patterns []string `mapstructure:"patterns"`
}

// DefaultSecretPatterns are the file names inspected when none are configured.
var DefaultSecretPatterns = []string{"*.{config,ini,eml}"}

// Secrets records password assignments found in configuration-like files.
type Secrets struct {
	patterns []glob.Glob
}

// NewSecrets returns a secrets extension.
func NewSecrets(cfg SecretsConfig) (*Secrets, error) {
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultSecretPatterns
	}
	s := &Secrets{}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		s.patterns = append(s.patterns, g)
	}
	return s, nil
}

// Name implements plugin.Action.
func (s *Secrets) Name() string { return SecretsName }

// Match implements plugin.Extension.
func (s *Secrets) Match(rec *entry.Record) bool {
	if rec.IsDir {
		return false
	}
	name := strings.ToLower(rec.Name)
	for _, g := range s.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Run implements plugin.Action.
func (s *Secrets) Run(ctx context.Context, rec *entry.Record, fs fsys.Filesystem) error {
	rc, err := fs.Open(ctx, rec.Path)
	if err != nil {
		return err
	}
	defer rc.Close()

	var found []string
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64<<10), maxLineBytes)
	for sc.Scan() && len(found) < maxSecretLines {
		line := strings.TrimSpace(sc.Text())
		if passAssignment.MatchString(line) {
			found = append(found, line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", rec.Path, err)
	}

	if len(found) > 0 {
		rec.Set(SecretsField, strings.Join(found, "\n"))
	}
	return nil
}

var _ plugin.Extension = (*Secrets)(nil)
