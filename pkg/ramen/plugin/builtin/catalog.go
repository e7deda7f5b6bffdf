package builtin

import "github.com/jamesainslie/ramen/pkg/ramen/plugin"

// Config holds the settings of every builtin plugin.
type Config struct {
	Hash    HashConfig    `mapstructure:"hash"`
	Secrets SecretsConfig `mapstructure:"secrets"`
}

// Catalog returns constructors for the builtin plugins.
func Catalog(cfg Config) plugin.Catalog {
	return plugin.Catalog{
		HashName:    func() (plugin.Action, error) { return NewHash(cfg.Hash) },
		SecretsName: func() (plugin.Action, error) { return NewSecrets(cfg.Secrets) },
	}
}
