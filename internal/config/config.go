package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Cluster  ClusterConfig  `yaml:"cluster" mapstructure:"cluster"`
	Source   SourceConfig   `yaml:"source" mapstructure:"source"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Quality  QualityConfig  `yaml:"quality" mapstructure:"quality"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ClusterConfig configures the DBSCAN run.
type ClusterConfig struct {
	LatColumn string  `yaml:"lat_column" mapstructure:"lat_column"`
	LonColumn string  `yaml:"lon_column" mapstructure:"lon_column"`
	Epsilon   float64 `yaml:"epsilon" mapstructure:"epsilon"`
	MinPoints int     `yaml:"min_points" mapstructure:"min_points"`
	Unit      string  `yaml:"unit" mapstructure:"unit"`
	Workers   int     `yaml:"workers" mapstructure:"workers"` // 0 = GOMAXPROCS
}

// SourceConfig configures how input files are parsed.
type SourceConfig struct {
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
	Encoding  string `yaml:"encoding" mapstructure:"encoding"`
	Sheet     string `yaml:"sheet" mapstructure:"sheet"`
	Table     string `yaml:"table" mapstructure:"table"`
}

// OutputConfig configures the export phase.
type OutputConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	Format    string `yaml:"format" mapstructure:"format"`
	KeepNoise bool   `yaml:"keep_noise" mapstructure:"keep_noise"`
	Plot      bool   `yaml:"plot" mapstructure:"plot"`
}

// QualityConfig configures the clustering quality report.
type QualityConfig struct {
	Enabled   bool `yaml:"enabled" mapstructure:"enabled"`
	MaxPoints int  `yaml:"max_points" mapstructure:"max_points"`
}

// PostgresConfig configures the PostGIS exporter.
type PostgresConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Schema      string `yaml:"schema" mapstructure:"schema"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEODBSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cluster.lat_column", "latitude")
	v.SetDefault("cluster.lon_column", "longitude")
	v.SetDefault("cluster.epsilon", 100.0)
	v.SetDefault("cluster.min_points", 10)
	v.SetDefault("cluster.unit", "meters")
	v.SetDefault("cluster.workers", 0)
	v.SetDefault("source.delimiter", "")
	v.SetDefault("source.encoding", "")
	v.SetDefault("source.sheet", "")
	v.SetDefault("source.table", "")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.format", "geojson")
	v.SetDefault("output.keep_noise", false)
	v.SetDefault("output.plot", false)
	v.SetDefault("quality.enabled", true)
	v.SetDefault("quality.max_points", 20000)
	v.SetDefault("postgres.database_url", "")
	v.SetDefault("postgres.schema", "public")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks numeric ranges and required names. Unit and format names
// are validated by the packages that own them.
func (c *Config) Validate() error {
	if c.Cluster.LatColumn == "" || c.Cluster.LonColumn == "" {
		return eris.New("config: lat_column and lon_column are required")
	}
	if c.Cluster.Epsilon <= 0 {
		return eris.Errorf("config: epsilon must be positive, got %v", c.Cluster.Epsilon)
	}
	if c.Cluster.MinPoints < 1 {
		return eris.Errorf("config: min_points must be at least 1, got %d", c.Cluster.MinPoints)
	}
	if c.Cluster.Workers < 0 {
		return eris.Errorf("config: workers must not be negative, got %d", c.Cluster.Workers)
	}
	if c.Output.Dir == "" {
		return eris.New("config: output dir is required")
	}
	if d := c.Source.Delimiter; len([]rune(d)) > 1 && d != `\t` && d != "tab" {
		return eris.Errorf("config: delimiter must be a single character, got %q", c.Source.Delimiter)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
