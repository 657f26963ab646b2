package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type EventsCfg struct {
	Enabled   bool   `yaml:"enabled"`
	Brokers   string `yaml:"brokers"`
	Topic     string `yaml:"topic"`
	QueueSize int    `yaml:"queue_size"`
}

type RefreshCfg struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	GroupID string `yaml:"group_id"`
}

type S3Cfg struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type Config struct {
	Addr       string `yaml:"addr"`
	LogLevel   string `yaml:"log_level"`
	LogConsole bool   `yaml:"log_console"`
	LogSampleN int    `yaml:"log_sample_n"`

	WorkspaceURL      string        `yaml:"workspace_url"`
	WorkspaceCacheTTL time.Duration `yaml:"workspace_cache_ttl"`
	RedisAddr         string        `yaml:"redis_addr"`
	RedisPrefix       string        `yaml:"redis_prefix"`

	CandidatesSource string `yaml:"candidates_source"`
	CatalogMemoSize  int    `yaml:"catalog_memo_size"`
	S3               S3Cfg  `yaml:"s3"`

	OptimizerURL     string        `yaml:"optimizer_url"`
	SelectionTimeout time.Duration `yaml:"selection_timeout"`

	OverlayOrder     string `yaml:"overlay_order"`
	OverlayMaxLayers int    `yaml:"overlay_max_layers"`
	CoverageRes      int    `yaml:"coverage_res"`

	MaxViews    int           `yaml:"max_views"`
	InitLat     float64       `yaml:"init_lat"`
	InitLng     float64       `yaml:"init_lng"`
	InitZoom    int           `yaml:"init_zoom"`
	MaxZoom     int           `yaml:"max_zoom"`
	LoadTimeout time.Duration `yaml:"load_timeout"`

	Events  EventsCfg  `yaml:"events"`
	Refresh RefreshCfg `yaml:"refresh"`
}

// Defaults returns the configuration used when neither a file nor the
// environment sets a value.
func Defaults() Config {
	return Config{
		Addr:              ":8090",
		LogLevel:          "info",
		WorkspaceURL:      "http://localhost:5000",
		WorkspaceCacheTTL: 5 * time.Minute,
		RedisPrefix:       "mapview:",
		CandidatesSource:  "http://localhost:3000/data/billboard_pts.geojson",
		CatalogMemoSize:   8,
		OptimizerURL:      "http://localhost:5000",
		SelectionTimeout:  2 * time.Minute,
		OverlayOrder:      "request",
		OverlayMaxLayers:  50,
		CoverageRes:       8,
		MaxViews:          1024,
		InitLat:           33.45496890,
		InitLng:           -112.18829470,
		InitZoom:          10,
		MaxZoom:           18,
		LoadTimeout:       30 * time.Second,
		Events: EventsCfg{
			Brokers:   "localhost:9092",
			Topic:     "billboard-selections",
			QueueSize: 1024,
		},
		Refresh: RefreshCfg{
			Topic:   "mapview-refresh",
			GroupID: "mapview",
		},
	}
}

func FromEnv() Config {
	return applyEnv(Defaults())
}

// Load reads an optional YAML file over the defaults, then applies the
// environment on top. An empty path behaves like FromEnv.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	return applyEnv(cfg), nil
}

func applyEnv(c Config) Config {
	c.Addr = getenv("ADDR", c.Addr)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogConsole = getbool("LOG_CONSOLE", c.LogConsole)
	c.LogSampleN = getint("LOG_SAMPLE_N", c.LogSampleN)

	c.WorkspaceURL = getenv("WORKSPACE_URL", c.WorkspaceURL)
	c.WorkspaceCacheTTL = getduration("WORKSPACE_CACHE_TTL", c.WorkspaceCacheTTL)
	c.RedisAddr = getenv("REDIS_ADDR", c.RedisAddr)
	c.RedisPrefix = getenv("REDIS_PREFIX", c.RedisPrefix)

	c.CandidatesSource = getenv("CANDIDATES_SOURCE", c.CandidatesSource)
	c.CatalogMemoSize = getint("CATALOG_MEMO_SIZE", c.CatalogMemoSize)
	c.S3.Endpoint = getenv("MINIO_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getenv("MINIO_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getenv("MINIO_SECRET_KEY", c.S3.SecretKey)
	c.S3.UseSSL = getbool("MINIO_USE_SSL", c.S3.UseSSL)

	c.OptimizerURL = getenv("OPTIMIZER_URL", c.OptimizerURL)
	c.SelectionTimeout = getduration("SELECTION_TIMEOUT", c.SelectionTimeout)

	c.OverlayOrder = strings.ToLower(getenv("OVERLAY_ORDER", c.OverlayOrder))
	c.OverlayMaxLayers = getint("OVERLAY_MAX_LAYERS", c.OverlayMaxLayers)
	c.CoverageRes = getint("COVERAGE_RES", c.CoverageRes)

	c.MaxViews = getint("MAX_VIEWS", c.MaxViews)
	c.InitLat = getfloat("INIT_LAT", c.InitLat)
	c.InitLng = getfloat("INIT_LNG", c.InitLng)
	c.InitZoom = getint("INIT_ZOOM", c.InitZoom)
	c.MaxZoom = getint("MAX_ZOOM", c.MaxZoom)
	c.LoadTimeout = getduration("LOAD_TIMEOUT", c.LoadTimeout)

	c.Events.Enabled = getbool("SELECTION_EVENTS_ENABLED", c.Events.Enabled)
	c.Events.Brokers = getenv("KAFKA_BROKERS", c.Events.Brokers)
	c.Events.Topic = getenv("KAFKA_TOPIC", c.Events.Topic)
	c.Events.QueueSize = getint("SELECTION_EVENTS_QUEUE", c.Events.QueueSize)

	c.Refresh.Enabled = getbool("REFRESH_ENABLED", c.Refresh.Enabled)
	c.Refresh.Topic = getenv("REFRESH_TOPIC", c.Refresh.Topic)
	c.Refresh.GroupID = getenv("REFRESH_GROUP_ID", c.Refresh.GroupID)

	if c.OverlayOrder != "completion" {
		c.OverlayOrder = "request"
	}
	if c.OverlayMaxLayers < 0 {
		c.OverlayMaxLayers = 0
	}
	if c.CoverageRes < 0 {
		c.CoverageRes = 0
	}
	if c.CoverageRes > 15 {
		c.CoverageRes = 15
	}
	if c.MaxZoom <= 0 {
		c.MaxZoom = 18
	}
	if c.InitZoom > c.MaxZoom {
		c.InitZoom = c.MaxZoom
	}
	return c
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.S3.SecretKey != "" {
		c.S3.SecretKey = "***"
	}
	return c
}

// BrokerList splits the comma separated broker list.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for p := range strings.SplitSeq(e.Brokers, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
