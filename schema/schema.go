// Package schema loads the granary configuration: where the store
// lives, the table shape, and the rule budgets. Configuration comes
// from a granary.yaml discovered by walking up from the working
// directory; a missing file means the built-in defaults.
package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/okvist/granary/table"
)

// Filename is the configuration file searched for.
const Filename = "granary.yaml"

// Config is the root of granary.yaml.
type Config struct {
	// DataDir is where the store keeps its files. Empty means an
	// in-memory store.
	DataDir string      `yaml:"dataDir,omitempty"`
	Table   TableConfig `yaml:"table"`
	Rules   RuleConfig  `yaml:"rules"`
}

// TableConfig describes the table shape.
type TableConfig struct {
	Name         string      `yaml:"name"`
	PartitionKey KeyConfig   `yaml:"partitionKey"`
	SortKey      *KeyConfig  `yaml:"sortKey,omitempty"`
	GSIs         []GSIConfig `yaml:"gsis,omitempty"`
}

// KeyConfig is one key attribute. Kind is "S", "N" or "B".
type KeyConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
}

// GSIConfig describes a global secondary index.
type GSIConfig struct {
	Name         string     `yaml:"name"`
	PartitionKey KeyConfig  `yaml:"partitionKey"`
	SortKey      *KeyConfig `yaml:"sortKey,omitempty"`
}

// RuleConfig holds the write-rule budgets.
type RuleConfig struct {
	// PercentCap bounds the summed allocation pct per subject-day.
	PercentCap float64 `yaml:"percentCap"`
	// DailyHours bounds the summed entry hours per subject-day.
	DailyHours float64 `yaml:"dailyHours"`
}

// Default is the configuration used when no granary.yaml exists: a
// timesheet table keyed pk/sk with the grant index, full-time budgets,
// data under .granary.
func Default() Config {
	return Config{
		DataDir: ".granary",
		Table: TableConfig{
			Name:         "timesheet",
			PartitionKey: KeyConfig{Name: "pk", Kind: "S"},
			SortKey:      &KeyConfig{Name: "sk", Kind: "S"},
			GSIs: []GSIConfig{{
				Name:         "grant-index",
				PartitionKey: KeyConfig{Name: "grant", Kind: "S"},
				SortKey:      &KeyConfig{Name: "sk", Kind: "S"},
			}},
		},
		Rules: RuleConfig{PercentCap: 100, DailyHours: 8},
	}
}

// Load finds and reads the configuration. Without a file it returns
// Default. Rule budgets left at zero fall back to the defaults.
func Load() (Config, error) {
	path, found := Find()
	if !found {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads one configuration file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	def := Default()
	if cfg.Table.Name == "" {
		cfg.Table = def.Table
	}
	if cfg.Rules.PercentCap == 0 {
		cfg.Rules.PercentCap = def.Rules.PercentCap
	}
	if cfg.Rules.DailyHours == 0 {
		cfg.Rules.DailyHours = def.Rules.DailyHours
	}
	return cfg, nil
}

// Find searches for granary.yaml from the working directory up to the
// filesystem root.
func Find() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		path := filepath.Join(dir, Filename)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Definition converts the table configuration into a validated table
// definition.
func (c Config) Definition() (table.Definition, error) {
	def := table.Definition{
		Name: c.Table.Name,
		Keys: keysOf(c.Table.PartitionKey, c.Table.SortKey),
	}
	for _, gsi := range c.Table.GSIs {
		def.Indexes = append(def.Indexes, table.GSIDefinition{
			Name: gsi.Name,
			Keys: keysOf(gsi.PartitionKey, gsi.SortKey),
		})
	}
	if err := def.Validate(); err != nil {
		return table.Definition{}, err
	}
	return def, nil
}

func keysOf(pk KeyConfig, sk *KeyConfig) table.PrimaryKeyDefinition {
	keys := table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: pk.Name, Kind: table.KeyKind(pk.Kind)},
	}
	if sk != nil {
		keys.SortKey = table.KeyDef{Name: sk.Name, Kind: table.KeyKind(sk.Kind)}
	}
	return keys
}
