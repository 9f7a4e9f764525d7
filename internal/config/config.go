package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.marquee/marquee.yaml"
)

// Config is the top-level configuration. It is constructed once by the CLI and
// passed explicitly to every pipeline stage.
type Config struct {
	Version   int             `yaml:"version"`
	Database  DatabaseConfig  `yaml:"database"`
	Paths     PathsConfig     `yaml:"paths"`
	Loader    LoaderConfig    `yaml:"loader,omitempty"`
	Quality   QualityConfig   `yaml:"quality,omitempty"`
	Analytics AnalyticsConfig `yaml:"analytics,omitempty"`
	Schedule  ScheduleConfig  `yaml:"schedule,omitempty"`
	Logging   LogConfig       `yaml:"logging,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
	Publish   PublishConfig   `yaml:"publish,omitempty"`
	History   HistoryConfig   `yaml:"history,omitempty"`
}

// DatabaseConfig defines the warehouse database connection.
type DatabaseConfig struct {
	Driver         string `yaml:"driver"` // postgres or sqlite
	DSN            string `yaml:"dsn,omitempty"`
	Host           string `yaml:"host,omitempty"`
	Port           int    `yaml:"port,omitempty"`
	Database       string `yaml:"database,omitempty"`
	Username       string `yaml:"username,omitempty"`
	Password       string `yaml:"password,omitempty"`
	SSL            bool   `yaml:"ssl,omitempty"`
	MaxConnections int    `yaml:"max_connections,omitempty"` // default 4
}

// PathsConfig defines the input files and output locations.
type PathsConfig struct {
	RawDir      string `yaml:"raw_dir,omitempty"`
	MoviesFile  string `yaml:"movies_file,omitempty"`
	RatingsFile string `yaml:"ratings_file,omitempty"`
	OutputDir   string `yaml:"output_dir,omitempty"`
	StateFile   string `yaml:"state_file,omitempty"`
	LockFile    string `yaml:"lock_file,omitempty"`
}

// LoaderConfig tunes the staging loader.
type LoaderConfig struct {
	ChunkSize int `yaml:"chunk_size,omitempty"` // default 100000
}

// QualityConfig controls the quality gate.
type QualityConfig struct {
	Mode           string  `yaml:"mode,omitempty"` // observe or enforce
	MinMovies      int64   `yaml:"min_movies,omitempty"`
	MaxMovies      int64   `yaml:"max_movies,omitempty"`
	MinRatings     int64   `yaml:"min_ratings,omitempty"`
	MaxRatings     int64   `yaml:"max_ratings,omitempty"`
	MinAvgRating   float64 `yaml:"min_avg_rating,omitempty"`
	MaxAvgRating   float64 `yaml:"max_avg_rating,omitempty"`
	MinReleaseYear int     `yaml:"min_release_year,omitempty"`
	MaxReleaseYear int     `yaml:"max_release_year,omitempty"`
}

// AnalyticsConfig controls the analytic extracts.
type AnalyticsConfig struct {
	MinRatings int `yaml:"min_ratings,omitempty"` // default 100
	MovieLimit int `yaml:"movie_limit,omitempty"` // default 10
	GenreLimit int `yaml:"genre_limit,omitempty"` // default 5
}

// ScheduleConfig controls the daily trigger and stage retries.
type ScheduleConfig struct {
	DailyAt    string        `yaml:"daily_at,omitempty"` // HH:MM local time
	Retries    int           `yaml:"retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`
	NoRetry    bool          `yaml:"no_retry,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // default ~/.marquee/logs/
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	Backend        string `yaml:"backend,omitempty"` // none or pushgateway
	PushgatewayURL string `yaml:"pushgateway_url,omitempty"`
	Job            string `yaml:"job,omitempty"`
}

// PublishConfig enables uploading analytic artifacts to S3.
type PublishConfig struct {
	S3Bucket string `yaml:"s3_bucket,omitempty"`
	S3Prefix string `yaml:"s3_prefix,omitempty"`
	Region   string `yaml:"region,omitempty"`
	Profile  string `yaml:"profile,omitempty"`
}

// HistoryConfig enables recording run summaries in MongoDB.
type HistoryConfig struct {
	MongoURI   string `yaml:"mongo_uri,omitempty"`
	Database   string `yaml:"database,omitempty"`
	Collection string `yaml:"collection,omitempty"`
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Version: CurrentVersion,
		Database: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			Database: "movielens_db",
			Username: "postgres",
			Password: "${ENV:MARQUEE_DB_PASSWORD}",
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Driver == "postgres" && c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 4
	}
	if c.Paths.RawDir == "" {
		c.Paths.RawDir = ExpandHome("~/.marquee/data/raw")
	}
	if c.Paths.MoviesFile == "" {
		c.Paths.MoviesFile = filepath.Join(c.Paths.RawDir, "ml-32m", "movies.csv")
	}
	if c.Paths.RatingsFile == "" {
		c.Paths.RatingsFile = filepath.Join(c.Paths.RawDir, "ml-32m", "ratings.csv")
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = ExpandHome("~/.marquee/data/output")
	}
	if c.Paths.StateFile == "" {
		c.Paths.StateFile = ExpandHome("~/.marquee/state.yaml")
	}
	if c.Paths.LockFile == "" {
		c.Paths.LockFile = ExpandHome("~/.marquee/marquee.lock")
	}
	if c.Loader.ChunkSize == 0 {
		c.Loader.ChunkSize = 100000
	}
	if c.Quality.Mode == "" {
		c.Quality.Mode = "observe"
	}
	if c.Quality.MinMovies == 0 && c.Quality.MaxMovies == 0 {
		c.Quality.MinMovies, c.Quality.MaxMovies = 80000, 100000
	}
	if c.Quality.MinRatings == 0 && c.Quality.MaxRatings == 0 {
		c.Quality.MinRatings, c.Quality.MaxRatings = 30000000, 35000000
	}
	if c.Quality.MinAvgRating == 0 && c.Quality.MaxAvgRating == 0 {
		c.Quality.MinAvgRating, c.Quality.MaxAvgRating = 2.0, 4.5
	}
	if c.Quality.MinReleaseYear == 0 {
		c.Quality.MinReleaseYear = 1800
	}
	if c.Quality.MaxReleaseYear == 0 {
		c.Quality.MaxReleaseYear = 2030
	}
	if c.Analytics.MinRatings == 0 {
		c.Analytics.MinRatings = 100
	}
	if c.Analytics.MovieLimit == 0 {
		c.Analytics.MovieLimit = 10
	}
	if c.Analytics.GenreLimit == 0 {
		c.Analytics.GenreLimit = 5
	}
	if c.Schedule.DailyAt == "" {
		c.Schedule.DailyAt = "12:00"
	}
	if c.Schedule.Retries == 0 && !c.Schedule.NoRetry {
		c.Schedule.Retries = 1
	}
	if c.Schedule.RetryDelay == 0 {
		c.Schedule.RetryDelay = 5 * time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.marquee/logs/")
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = "none"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "marquee"
	}
	if c.History.MongoURI != "" {
		if c.History.Database == "" {
			c.History.Database = "marquee"
		}
		if c.History.Collection == "" {
			c.History.Collection = "pipeline_runs"
		}
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database: host or dsn is required for postgres")
		}
	case "sqlite":
		if c.Database.DSN == "" {
			return fmt.Errorf("database: dsn is required for sqlite")
		}
	default:
		return fmt.Errorf("database: unsupported driver %q (expected postgres or sqlite)", c.Database.Driver)
	}
	if c.Quality.Mode != "observe" && c.Quality.Mode != "enforce" {
		return fmt.Errorf("quality: unsupported mode %q (expected observe or enforce)", c.Quality.Mode)
	}
	if c.Quality.MinMovies > c.Quality.MaxMovies {
		return fmt.Errorf("quality: min_movies %d exceeds max_movies %d", c.Quality.MinMovies, c.Quality.MaxMovies)
	}
	if c.Quality.MinRatings > c.Quality.MaxRatings {
		return fmt.Errorf("quality: min_ratings %d exceeds max_ratings %d", c.Quality.MinRatings, c.Quality.MaxRatings)
	}
	if c.Loader.ChunkSize < 0 {
		return fmt.Errorf("loader: chunk_size must be positive")
	}
	if c.Schedule.Retries < 0 {
		return fmt.Errorf("schedule: retries must not be negative")
	}
	if _, _, err := ParseClock(c.Schedule.DailyAt); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	switch c.Metrics.Backend {
	case "none", "pushgateway":
	default:
		return fmt.Errorf("metrics: unknown backend %q", c.Metrics.Backend)
	}
	return nil
}

// ConnString returns the connection string for the configured driver.
func (d DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.Username, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	if d.SSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns a copy of the config with secrets masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Database.Password != "" {
		cp.Database.Password = "********"
	}
	if cp.Database.DSN != "" && cp.Database.Driver == "postgres" {
		if u, err := url.Parse(cp.Database.DSN); err == nil && u.User != nil {
			u.User = url.UserPassword(u.User.Username(), "********")
			cp.Database.DSN = u.String()
		}
	}
	if cp.History.MongoURI != "" {
		cp.History.MongoURI = "********"
	}
	return &cp
}

// ParseClock parses an HH:MM wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (expected HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Database.Password, err = ResolveValue(c.Database.Password)
	if err != nil {
		return fmt.Errorf("database password: %w", err)
	}
	c.Database.DSN, err = ResolveValue(c.Database.DSN)
	if err != nil {
		return fmt.Errorf("database dsn: %w", err)
	}
	c.History.MongoURI, err = ResolveValue(c.History.MongoURI)
	if err != nil {
		return fmt.Errorf("history mongo uri: %w", err)
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
