package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all service settings, populated from defaults, an optional
// YAML file named by CONFIG_FILE, and environment variables (highest
// precedence).
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Inputs.
	DataDir           string
	RasterURLTemplate string
	RasterMaxAge      time.Duration
	ZCTASource        string
	HHISource         string
	ZCTAKeyField      string
	HHIKeyColumn      string
	AttributeCacheTTL time.Duration

	// Interpolation and highlighting.
	NumericColumns     []string
	CategoricalColumns []string
	ExtensiveColumns   []string
	Indicator          string
	HeatLevels         []int
	Percentile         float64
	SimplifyTolerance  float64

	// Scheduling.
	Location       *time.Location
	DayTimeout     time.Duration
	DayConcurrency int
	RunInterval    time.Duration

	// Object store.
	StoreBackend   string
	StoreBucket    string
	StorePrefix    string
	StoreEndpoint  string
	StoreRegion    string
	PublishRetries int

	LedgerPath string

	// Kafka publication notifications.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool

	// Consumer client.
	CDNBaseURL  string
	CDNCacheTTL time.Duration
	CDNTimeout  time.Duration
}

// Store backends.
const (
	BackendFile = "file"
	BackendS3   = "s3"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("shutdown_timeout", "10s")

	v.SetDefault("data_dir", "data")
	v.SetDefault("raster_url_template", "https://www.wpc.ncep.noaa.gov/heatrisk/data/HeatRisk_%d_Mercator.tif")
	v.SetDefault("raster_max_age", "6h")
	v.SetDefault("zcta_source", "https://www2.census.gov/geo/tiger/GENZ2020/shp/cb_2020_us_zcta520_500k.zip")
	v.SetDefault("hhi_source", "https://gis.cdc.gov/HHI/Documents/HHI_Data.zip")
	v.SetDefault("zcta_key_field", "ZCTA5CE20")
	v.SetDefault("hhi_key_column", "ZCTA")
	v.SetDefault("attribute_cache_ttl", "24h")

	v.SetDefault("numeric_columns", "")
	v.SetDefault("categorical_columns", "")
	v.SetDefault("extensive_columns", "POP")
	v.SetDefault("indicator", "OVERALL_SCORE")
	v.SetDefault("heat_levels", "2,3,4")
	v.SetDefault("percentile", 80.0)
	v.SetDefault("simplify_tolerance", 0.0)

	v.SetDefault("timezone", "America/New_York")
	v.SetDefault("day_timeout", "15m")
	v.SetDefault("day_concurrency", 1)
	v.SetDefault("run_interval", "0s")

	v.SetDefault("store_backend", BackendFile)
	v.SetDefault("store_bucket", "")
	v.SetDefault("store_prefix", "")
	v.SetDefault("store_endpoint", "")
	v.SetDefault("store_region", "us-east-1")
	v.SetDefault("publish_retries", 3)

	v.SetDefault("ledger_path", "data/ledger.db")

	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_topic", "heat-risk-publications")
	v.SetDefault("kafka_enabled", false)

	v.SetDefault("cdn_base_url", "http://localhost:8081")
	v.SetDefault("cdn_cache_ttl", "5m")
	v.SetDefault("cdn_timeout", "30s")
}

// Load reads configuration, applying defaults where unset.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read CONFIG_FILE %s: %w", path, err)
		}
	}

	p := parser{v: v}
	cfg := &Config{
		HTTPAddr:        v.GetString("http_addr"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		ShutdownTimeout: p.duration("shutdown_timeout", false),

		DataDir:           v.GetString("data_dir"),
		RasterURLTemplate: v.GetString("raster_url_template"),
		RasterMaxAge:      p.duration("raster_max_age", true),
		ZCTASource:        v.GetString("zcta_source"),
		HHISource:         v.GetString("hhi_source"),
		ZCTAKeyField:      v.GetString("zcta_key_field"),
		HHIKeyColumn:      v.GetString("hhi_key_column"),
		AttributeCacheTTL: p.duration("attribute_cache_ttl", true),

		NumericColumns:     parseList(v.GetString("numeric_columns")),
		CategoricalColumns: parseList(v.GetString("categorical_columns")),
		ExtensiveColumns:   parseList(v.GetString("extensive_columns")),
		Indicator:          v.GetString("indicator"),
		HeatLevels:         p.intList("heat_levels"),
		Percentile:         p.number("percentile"),
		SimplifyTolerance:  p.number("simplify_tolerance"),

		DayTimeout:     p.duration("day_timeout", false),
		DayConcurrency: p.integer("day_concurrency"),
		RunInterval:    p.duration("run_interval", true),

		StoreBackend:   strings.ToLower(v.GetString("store_backend")),
		StoreBucket:    v.GetString("store_bucket"),
		StorePrefix:    strings.Trim(v.GetString("store_prefix"), "/"),
		StoreEndpoint:  v.GetString("store_endpoint"),
		StoreRegion:    v.GetString("store_region"),
		PublishRetries: p.integer("publish_retries"),

		LedgerPath: v.GetString("ledger_path"),

		KafkaBrokers: parseList(v.GetString("kafka_brokers")),
		KafkaTopic:   v.GetString("kafka_topic"),
		KafkaEnabled: v.GetBool("kafka_enabled"),

		CDNBaseURL:  strings.TrimRight(v.GetString("cdn_base_url"), "/"),
		CDNCacheTTL: p.duration("cdn_cache_ttl", true),
		CDNTimeout:  p.duration("cdn_timeout", false),
	}
	if p.err != nil {
		return nil, p.err
	}

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Percentile < 0 || c.Percentile > 100 {
		return errors.New("PERCENTILE must be between 0 and 100")
	}
	if c.SimplifyTolerance < 0 {
		return errors.New("SIMPLIFY_TOLERANCE must not be negative")
	}
	if c.Indicator == "" {
		return errors.New("INDICATOR is required")
	}
	if len(c.HeatLevels) == 0 {
		return errors.New("HEAT_LEVELS is required")
	}
	if c.DayConcurrency < 1 {
		return errors.New("DAY_CONCURRENCY must be at least 1")
	}
	if c.PublishRetries < 1 {
		return errors.New("PUBLISH_RETRIES must be at least 1")
	}
	if !strings.Contains(c.RasterURLTemplate, "%d") {
		return errors.New("RASTER_URL_TEMPLATE must contain %d for the day number")
	}
	switch c.StoreBackend {
	case BackendFile:
	case BackendS3:
		if c.StoreBucket == "" {
			return errors.New("STORE_BUCKET is required when STORE_BACKEND is s3")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required when KAFKA_ENABLED is true")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_TOPIC is required when KAFKA_ENABLED is true")
		}
	}
	return nil
}

// parser reads typed values and keeps the first error, naming the variable.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", strings.ToUpper(key), err)
	}
}

func (p *parser) duration(key string, allowZero bool) time.Duration {
	s := p.v.GetString(key)
	d, err := time.ParseDuration(s)
	if err != nil {
		p.fail(key, err)
		return 0
	}
	if d < 0 || (d == 0 && !allowZero) {
		p.fail(key, fmt.Errorf("%q must be positive", s))
		return 0
	}
	return d
}

func (p *parser) integer(key string) int {
	s := p.v.GetString(key)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) number(key string) float64 {
	s := p.v.GetString(key)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		p.fail(key, err)
	}
	return f
}

func (p *parser) intList(key string) []int {
	var out []int
	for _, s := range parseList(p.v.GetString(key)) {
		n, err := strconv.Atoi(s)
		if err != nil {
			p.fail(key, err)
			return nil
		}
		out = append(out, n)
	}
	return out
}

// parseList splits a comma-separated value, trimming blanks.
func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
