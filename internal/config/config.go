// Package config loads loom.hcl.
//
//	filter          = "@.status != 'archived'"
//	hard_filter     = ""
//	bulk_threshold  = 250
//	layout_debounce = "200ms"
//	link_types      = ["supports", "contradicts"]
//
//	layout {
//	  name    = "force"
//	  animate = true
//	}
//
//	style_group "drafts" {
//	  filter = "@.status == 'draft'"
//	  color  = "orange"
//	}
//
//	condense {
//	  min_in_degree = 2
//	}
//
//	stores {
//	  tags = true
//	  archive "archive" {
//	    path = "old-vault.db"
//	  }
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agentic-research/loom/api"
	"github.com/agentic-research/loom/internal/graph"
	"github.com/agentic-research/loom/internal/query"
	"github.com/agentic-research/loom/internal/session"
	"github.com/agentic-research/loom/internal/store"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// DefaultFile is the config file looked up in the vault root.
const DefaultFile = "loom.hcl"

// Archive is a read-only SQLite store built with "loom build".
type Archive struct {
	ID   string `hcl:"id,label"`
	Path string `hcl:"path"`
}

// Config is the decoded configuration with defaults applied.
type Config struct {
	Settings       api.Settings
	GlobalGroups   []api.StyleGroup
	BulkThreshold  int
	LayoutDebounce time.Duration
	MinInDegree    int
	LinkTypes      []string
	TagStore       bool
	Archives       []Archive
}

// Default returns the configuration used without a config file.
func Default() Config {
	return Config{
		Settings:       api.Settings{Layout: api.DefaultLayout()},
		BulkThreshold:  session.DefaultBulkThreshold,
		LayoutDebounce: session.DefaultLayoutDebounce,
		MinInDegree:    session.DefaultMinInDegree,
		TagStore:       true,
	}
}

type fileRoot struct {
	Filter         string           `hcl:"filter,optional"`
	HardFilter     string           `hcl:"hard_filter,optional"`
	BulkThreshold  *int             `hcl:"bulk_threshold,optional"`
	LayoutDebounce *string          `hcl:"layout_debounce,optional"`
	LinkTypes      []string         `hcl:"link_types,optional"`
	Layout         *layoutBlock     `hcl:"layout,block"`
	StyleGroups    []api.StyleGroup `hcl:"style_group,block"`
	Condense       *condenseBlock   `hcl:"condense,block"`
	Stores         *storesBlock     `hcl:"stores,block"`
}

type layoutBlock struct {
	Name                *string `hcl:"name,optional"`
	Animate             *bool   `hcl:"animate,optional"`
	Fit                 *bool   `hcl:"fit,optional"`
	MaxSimulationMillis *int    `hcl:"max_simulation_ms,optional"`
}

type condenseBlock struct {
	MinInDegree int `hcl:"min_in_degree"`
}

type storesBlock struct {
	Tags     *bool     `hcl:"tags,optional"`
	Archives []Archive `hcl:"archive,block"`
}

// Load reads path. A missing file yields Default.
func Load(path string) (Config, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(src, path)
	if err != nil {
		return Config{}, err
	}
	// Archive paths are relative to the config file.
	for i, a := range cfg.Archives {
		if !filepath.IsAbs(a.Path) {
			cfg.Archives[i].Path = filepath.Join(filepath.Dir(path), a.Path)
		}
	}
	return cfg, nil
}

// Parse decodes HCL source. filename is used in diagnostics only.
func Parse(src []byte, filename string) (Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", filename, diags)
	}
	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to decode config %s: %w", filename, diags)
	}

	cfg := Default()
	cfg.Settings.Filter = root.Filter
	cfg.Settings.HardFilter = root.HardFilter
	if len(root.StyleGroups) > 0 {
		cfg.GlobalGroups = root.StyleGroups
	}
	if len(root.LinkTypes) > 0 {
		cfg.LinkTypes = root.LinkTypes
	}
	if root.BulkThreshold != nil {
		cfg.BulkThreshold = *root.BulkThreshold
	}
	if root.LayoutDebounce != nil {
		d, err := time.ParseDuration(*root.LayoutDebounce)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: layout_debounce: %w", filename, err)
		}
		cfg.LayoutDebounce = d
	}
	if l := root.Layout; l != nil {
		if l.Name != nil {
			cfg.Settings.Layout.Name = *l.Name
		}
		if l.Animate != nil {
			cfg.Settings.Layout.Animate = *l.Animate
		}
		if l.Fit != nil {
			cfg.Settings.Layout.Fit = *l.Fit
		}
		if l.MaxSimulationMillis != nil {
			cfg.Settings.Layout.MaxSimulationMillis = *l.MaxSimulationMillis
		}
	}
	if root.Condense != nil {
		cfg.MinInDegree = root.Condense.MinInDegree
	}
	if s := root.Stores; s != nil {
		if s.Tags != nil {
			cfg.TagStore = *s.Tags
		}
		if len(s.Archives) > 0 {
			cfg.Archives = s.Archives
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks queries, durations and store ids.
func (c Config) Validate() error {
	var errs []error
	if _, err := query.Compile(c.Settings.Filter); err != nil {
		errs = append(errs, fmt.Errorf("filter: %w", err))
	}
	if _, err := query.Compile(c.Settings.HardFilter); err != nil {
		errs = append(errs, fmt.Errorf("hard_filter: %w", err))
	}
	for _, g := range c.GlobalGroups {
		if _, err := query.Compile(g.Filter); err != nil {
			errs = append(errs, fmt.Errorf("style_group %q: %w", g.Name, err))
		}
	}
	if c.LayoutDebounce < 0 {
		errs = append(errs, errors.New("layout_debounce must not be negative"))
	}
	if c.MinInDegree < 0 {
		errs = append(errs, errors.New("min_in_degree must not be negative"))
	}
	ids := map[string]struct{}{store.CoreStoreID: {}}
	if c.TagStore {
		ids[store.TagStoreID] = struct{}{}
	}
	for _, a := range c.Archives {
		if err := graph.NewIdentity("", a.ID).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("archive %q: %w", a.ID, err))
			continue
		}
		if _, dup := ids[a.ID]; dup {
			errs = append(errs, fmt.Errorf("archive %q: store id already in use", a.ID))
		}
		ids[a.ID] = struct{}{}
		if a.Path == "" {
			errs = append(errs, fmt.Errorf("archive %q: empty path", a.ID))
		}
	}
	return errors.Join(errs...)
}

// SessionOptions returns the session options the config implies.
func (c Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithSettings(c.Settings),
		session.WithGlobalGroups(c.GlobalGroups),
		session.WithBulkThreshold(c.BulkThreshold),
		session.WithLayoutDebounce(c.LayoutDebounce),
		session.WithMinInDegree(c.MinInDegree),
	}
}
