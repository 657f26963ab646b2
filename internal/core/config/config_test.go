package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Addr != ":8090" || cfg.OptimizerURL != "http://localhost:5000" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.InitLat != 33.45496890 || cfg.InitLng != -112.18829470 || cfg.InitZoom != 10 || cfg.MaxZoom != 18 {
		t.Fatalf("initial camera = %v,%v z%d max%d", cfg.InitLat, cfg.InitLng, cfg.InitZoom, cfg.MaxZoom)
	}
	if cfg.OverlayOrder != "request" || cfg.OverlayMaxLayers != 50 {
		t.Fatalf("overlay defaults = %q %d", cfg.OverlayOrder, cfg.OverlayMaxLayers)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("OPTIMIZER_URL", "http://optimizer:5000")
	t.Setenv("SELECTION_TIMEOUT", "45s")
	t.Setenv("OVERLAY_ORDER", "Completion")
	t.Setenv("COVERAGE_RES", "40")
	t.Setenv("INIT_ZOOM", "22")
	t.Setenv("SELECTION_EVENTS_ENABLED", "yes")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("MAX_VIEWS", "not-a-number")

	cfg := FromEnv()
	if cfg.OptimizerURL != "http://optimizer:5000" || cfg.SelectionTimeout != 45*time.Second {
		t.Fatalf("optimizer = %q %s", cfg.OptimizerURL, cfg.SelectionTimeout)
	}
	if cfg.OverlayOrder != "completion" {
		t.Fatalf("order = %q", cfg.OverlayOrder)
	}
	if cfg.CoverageRes != 15 || cfg.InitZoom != 18 {
		t.Fatalf("clamps: res=%d zoom=%d", cfg.CoverageRes, cfg.InitZoom)
	}
	if !cfg.Events.Enabled {
		t.Fatalf("events not enabled")
	}
	if b := cfg.Events.BrokerList(); len(b) != 2 || b[1] != "k2:9092" {
		t.Fatalf("brokers = %v", b)
	}
	if cfg.MaxViews != 1024 {
		t.Fatalf("bad int should keep default, got %d", cfg.MaxViews)
	}
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	p := filepath.Join(t.TempDir(), "mapview.yaml")
	body := []byte(`
addr: ":9000"
workspace_url: "http://ws:5000"
selection_timeout: 90s
overlay_max_layers: 5
s3:
  endpoint: "minio:9000"
  secret_key: "s3cr3t"
events:
  topic: "custom"
`)
	if err := os.WriteFile(p, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ADDR", ":9100")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env should win over file, addr=%q", cfg.Addr)
	}
	if cfg.WorkspaceURL != "http://ws:5000" || cfg.SelectionTimeout != 90*time.Second || cfg.OverlayMaxLayers != 5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.S3.Endpoint != "minio:9000" || cfg.Events.Topic != "custom" || cfg.Events.QueueSize != 1024 {
		t.Fatalf("nested values: %+v %+v", cfg.S3, cfg.Events)
	}
	if cfg.Redacted().S3.SecretKey != "***" || cfg.S3.SecretKey != "s3cr3t" {
		t.Fatalf("redaction wrong")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFromEnv_RefreshAndRedis(t *testing.T) {
	cfg := FromEnv()
	if cfg.Refresh.Enabled || cfg.Refresh.Topic != "mapview-refresh" || cfg.Refresh.GroupID != "mapview" {
		t.Fatalf("refresh defaults = %+v", cfg.Refresh)
	}
	if cfg.RedisPrefix != "mapview:" {
		t.Fatalf("redis prefix = %q", cfg.RedisPrefix)
	}

	t.Setenv("REFRESH_ENABLED", "true")
	t.Setenv("REFRESH_TOPIC", "ws-changes")
	t.Setenv("REDIS_PREFIX", "biq:")
	cfg = FromEnv()
	if !cfg.Refresh.Enabled || cfg.Refresh.Topic != "ws-changes" || cfg.RedisPrefix != "biq:" {
		t.Fatalf("overrides = %+v prefix=%q", cfg.Refresh, cfg.RedisPrefix)
	}
}
