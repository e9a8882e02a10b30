// Package config loads replica configuration files.
//
// Configuration is YAML decoded strictly: unknown keys are rejected so a
// typo such as "shortId:" fails loudly instead of being ignored.
//
//	remote: ws://localhost:8080/records
//	query: { status: open }
//	publication:
//	  query: { order: { $lte: 3.5 } }
//	  cue: |
//	    status: "open" | "pending"
//	sort: [order, -name]
//	uuid: true
//	shortIds: false
//	paginate: { default: 10, max: 50 }
//	log: { level: info, format: text }
//	metrics: { addr: ":9090" }
//	serve: { driver: sqlite3, dsn: replica.db, table: records, addr: ":8080" }
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/replica/internal/engine"
	"github.com/roach88/replica/internal/publication"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
	"github.com/roach88/replica/internal/replica"
	"github.com/roach88/replica/internal/store"
)

// Config is the decoded configuration file.
type Config struct {
	Remote      string           `yaml:"remote"`
	Query       map[string]any   `yaml:"query"`
	Publication Publication      `yaml:"publication"`
	Sort        []string         `yaml:"sort"`
	UUID        bool             `yaml:"uuid"`
	ShortIDs    bool             `yaml:"shortIds"`
	Paginate    queryir.Paginate `yaml:"paginate"`
	Log         Log              `yaml:"log"`
	Metrics     Metrics          `yaml:"metrics"`
	Serve       Serve            `yaml:"serve"`
}

// Publication selects which records the replica keeps. Both forms may be
// given; a record must then satisfy both.
type Publication struct {
	Query map[string]any `yaml:"query"`
	CUE   string         `yaml:"cue"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`  // debug | info | warn | error (default info)
	Format string `yaml:"format"` // text | json (default text)
}

// Metrics configures the prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Serve configures the SQL collection served by "replica serve".
type Serve struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
	Addr   string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:   Log{Level: "info", Format: "text"},
		Serve: Serve{Driver: store.DriverSQLite3, DSN: "replica.db", Table: store.DefaultTable, Addr: ":8080"},
	}
}

// Load reads and validates the configuration file at path.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section that can be checked without connecting.
func (c *Config) Validate() error {
	if _, err := c.ParsedQuery(); err != nil {
		return err
	}
	if _, err := c.BuildPublication(); err != nil {
		return err
	}
	if _, err := c.SortKeys(); err != nil {
		return err
	}
	if c.Paginate.Default < 0 || c.Paginate.Max < 0 {
		return fmt.Errorf("paginate: default and max must be non-negative")
	}
	if c.Paginate.Max > 0 && c.Paginate.Default > c.Paginate.Max {
		return fmt.Errorf("paginate: default %d exceeds max %d", c.Paginate.Default, c.Paginate.Max)
	}
	if c.ShortIDs && !c.UUID {
		return fmt.Errorf("shortIds requires uuid: true")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: must be text or json, got %q", c.Log.Format)
	}
	switch c.Serve.Driver {
	case "", store.DriverSQLite3, store.DriverSQLite, store.DriverPostgres:
	default:
		return fmt.Errorf("serve.driver: unsupported driver %q", c.Serve.Driver)
	}
	return nil
}

// ParsedQuery returns the replication query.
func (c *Config) ParsedQuery() (queryir.Query, error) {
	if len(c.Query) == 0 {
		return queryir.Query{}, nil
	}
	q, err := queryir.Parse(c.Query)
	if err != nil {
		return queryir.Query{}, fmt.Errorf("query: %w", err)
	}
	return q, nil
}

// BuildPublication compiles the publication section. Returns nil when no
// publication is configured.
func (c *Config) BuildPublication() (replica.Publication, error) {
	var pubs []replica.Publication
	if len(c.Publication.Query) > 0 {
		filter, err := record.FromMap(c.Publication.Query)
		if err != nil {
			return nil, fmt.Errorf("publication.query: %w", err)
		}
		pub, err := publication.FromFilter(filter)
		if err != nil {
			return nil, fmt.Errorf("publication.query: %w", err)
		}
		pubs = append(pubs, pub)
	}
	if strings.TrimSpace(c.Publication.CUE) != "" {
		pub, err := publication.FromCUE(c.Publication.CUE)
		if err != nil {
			return nil, fmt.Errorf("publication.cue: %w", err)
		}
		pubs = append(pubs, pub)
	}
	switch len(pubs) {
	case 0:
		return nil, nil
	case 1:
		return pubs[0], nil
	default:
		return publication.All(pubs...), nil
	}
}

// SortKeys parses the sort list. Entries are field names, "-" prefixed
// for descending order. When the list is empty the query's $sort is used.
func (c *Config) SortKeys() ([]queryir.SortKey, error) {
	if len(c.Sort) == 0 {
		q, err := c.ParsedQuery()
		if err != nil {
			return nil, err
		}
		return q.Sort, nil
	}
	entries := make([]any, len(c.Sort))
	for i, s := range c.Sort {
		entries[i] = s
	}
	q, err := queryir.Parse(map[string]any{"$sort": entries})
	if err != nil {
		return nil, fmt.Errorf("sort: %w", err)
	}
	return q.Sort, nil
}

// ReplicatorOptions builds the engine options described by the file.
// extra options are appended and take precedence.
func (c *Config) ReplicatorOptions(logger *slog.Logger, extra ...engine.Option) ([]engine.Option, error) {
	q, err := c.ParsedQuery()
	if err != nil {
		return nil, err
	}
	pub, err := c.BuildPublication()
	if err != nil {
		return nil, err
	}
	keys, err := c.SortKeys()
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithQuery(q),
		engine.WithUUID(c.UUID),
		engine.WithShortIDs(c.ShortIDs),
	}
	if logger != nil {
		opts = append(opts, engine.WithLogger(logger))
	}
	if pub != nil {
		opts = append(opts, engine.WithPublication(pub))
	}
	if len(keys) > 0 {
		opts = append(opts, engine.WithSort(engine.MultiSort(keys...)))
	}
	return append(opts, extra...), nil
}

// StoreConfig returns the SQL collection settings of the serve section.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Driver:   c.Serve.Driver,
		DSN:      c.Serve.DSN,
		Table:    c.Serve.Table,
		Paginate: c.Paginate,
	}
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("log.level: unknown level %q", name)
	}
}

// NewLogger builds the process logger writing to w.
// verbose forces debug level regardless of log.level.
func (c *Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
