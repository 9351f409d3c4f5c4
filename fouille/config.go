package fouille

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/fouille/fouille/internal/engine"
	"github.com/hazyhaar/fouille/fouille/internal/ingest"
	"github.com/hazyhaar/fouille/fouille/internal/prefmodel"
	"github.com/hazyhaar/fouille/fouille/internal/rerank"
)

// Config configures the fouille service.
type Config struct {
	// DataDir holds the memory and feedback logs, the preferences database,
	// the model weights and the ingest index.
	DataDir   string `yaml:"data_dir"`
	UserAgent string `yaml:"user_agent"`

	Search  SearchConfig     `yaml:"search"`
	Fetch   FetchConfig      `yaml:"fetch"`
	Engines []engine.Spec    `yaml:"engines"`
	Memory  MemoryConfig     `yaml:"memory"`
	Model   prefmodel.Config `yaml:"model"`
	Rerank  rerank.Config    `yaml:"rerank"`
	Train   TrainConfig      `yaml:"train"`
	Ingest  ingest.Config    `yaml:"ingest"`
	DB      DBConfig         `yaml:"database"`
}

// SearchConfig bounds one search call.
type SearchConfig struct {
	MaxResults     int           `yaml:"max_results"`
	MaxResultsCap  int           `yaml:"max_results_cap"`
	MaxPerDomain   int           `yaml:"max_per_domain"`
	DelayPerDomain time.Duration `yaml:"delay_per_domain"`
	FollowWorkers  int           `yaml:"follow_workers"`
	EngineTimeout  time.Duration `yaml:"engine_timeout"`
	RobotsTimeout  time.Duration `yaml:"robots_timeout"`
}

// FetchConfig tunes page enrichment.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBytes     int64         `yaml:"max_bytes"`
	MaxChars     int           `yaml:"max_chars"`
	SnippetChars int           `yaml:"snippet_chars"`
}

// MemoryConfig tunes memory ingestion and search.
type MemoryConfig struct {
	ChunkSize   int `yaml:"chunk_size"`
	Overlap     int `yaml:"overlap"`
	DefaultTopK int `yaml:"default_top_k"`
}

// DBConfig tunes the SQLite preferences database.
type DBConfig struct {
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	// Synchronous is PRAGMA synchronous: OFF, NORMAL, FULL or EXTRA.
	Synchronous string `yaml:"synchronous"`
}

// TrainConfig controls automatic retraining.
type TrainConfig struct {
	// AutoEvery retrains in the background after every N recorded
	// feedback events. 0 disables.
	AutoEvery int `yaml:"auto_every"`
	// Limit caps the records read per training run. 0 reads all.
	Limit int `yaml:"limit"`
}

func (c *Config) defaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.UserAgent == "" {
		c.UserAgent = "fouille/1.0 (+personal search)"
	}
	s := &c.Search
	if s.MaxResults <= 0 {
		s.MaxResults = 30
	}
	if s.MaxResultsCap <= 0 {
		s.MaxResultsCap = 200
	}
	if s.MaxPerDomain == 0 {
		s.MaxPerDomain = 5
	}
	if s.DelayPerDomain <= 0 {
		s.DelayPerDomain = time.Second
	}
	if s.FollowWorkers <= 0 {
		s.FollowWorkers = 4
	}
	if s.EngineTimeout <= 0 {
		s.EngineTimeout = 8 * time.Second
	}
	if s.RobotsTimeout <= 0 {
		s.RobotsTimeout = 5 * time.Second
	}
	f := &c.Fetch
	if f.Timeout <= 0 {
		f.Timeout = 8 * time.Second
	}
	if f.MaxBytes <= 0 {
		f.MaxBytes = 2 << 20
	}
	if f.MaxChars <= 0 {
		f.MaxChars = 1600
	}
	if f.SnippetChars <= 0 {
		f.SnippetChars = 300
	}
	if len(c.Engines) == 0 {
		c.Engines = []engine.Spec{{Name: "duckduckgo", Kind: engine.KindDuckDuckGo}}
	}
	m := &c.Memory
	if m.ChunkSize <= 0 {
		m.ChunkSize = 1000
	}
	if m.Overlap == 0 {
		m.Overlap = 150
	}
	if m.DefaultTopK <= 0 {
		m.DefaultTopK = 5
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = m.ChunkSize
	}
	if c.Ingest.Overlap == 0 {
		c.Ingest.Overlap = m.Overlap
	}
	if c.Ingest.IndexPath == "" {
		c.Ingest.IndexPath = filepath.Join(c.DataDir, "memory", "code_index.json")
	}
	if c.DB.BusyTimeout <= 0 {
		c.DB.BusyTimeout = 10 * time.Second
	}
	if c.DB.Synchronous == "" {
		c.DB.Synchronous = "NORMAL"
	}
}

// Paths of the persisted state under DataDir.
func (c *Config) memoryPath() string   { return filepath.Join(c.DataDir, "memory", "memory.jsonl") }
func (c *Config) feedbackPath() string { return filepath.Join(c.DataDir, "feedback", "feedback.jsonl") }
func (c *Config) prefsPath() string    { return filepath.Join(c.DataDir, "prefs.db") }
func (c *Config) modelDir() string     { return filepath.Join(c.DataDir, "nn") }

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// SetDataDir moves the persisted state to dir. An ingest index path that was
// derived from the previous DataDir follows it.
func (c *Config) SetDataDir(dir string) {
	if c.Ingest.IndexPath == filepath.Join(c.DataDir, "memory", "code_index.json") {
		c.Ingest.IndexPath = ""
	}
	c.DataDir = dir
	c.defaults()
}

// LoadConfigFile reads a YAML config. Unset fields keep their defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, cfg.Validate()
}

// Validate checks engine definitions.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, e := range c.Engines {
		switch e.Kind {
		case engine.KindAPI, engine.KindRSS:
			if e.URL == "" {
				return fmt.Errorf("engines[%d]: url is required for kind %s", i, e.Kind)
			}
		case engine.KindDuckDuckGo:
		default:
			return fmt.Errorf("engines[%d]: unsupported kind %q", i, e.Kind)
		}
		name := e.Name
		if name == "" {
			name = e.Kind
		}
		if seen[name] {
			return fmt.Errorf("engines[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}
	if c.Search.MaxResults > c.Search.MaxResultsCap {
		return fmt.Errorf("search.max_results (%d) exceeds max_results_cap (%d)", c.Search.MaxResults, c.Search.MaxResultsCap)
	}
	return nil
}
