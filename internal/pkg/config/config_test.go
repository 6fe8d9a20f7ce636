package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/samirrijal/geoaugment/internal/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("geoaugment-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Fetch.PageTimeout != 30*time.Second {
		t.Errorf("expected 30s page timeout, got %s", cfg.Fetch.PageTimeout)
	}
	if cfg.Fetch.MaxRedirects != 10 {
		t.Errorf("expected 10 max redirects, got %d", cfg.Fetch.MaxRedirects)
	}
	if cfg.Location.ProcessNoise != 3 {
		t.Errorf("expected process noise 3, got %f", cfg.Location.ProcessNoise)
	}
	if cfg.Telemetry.ServiceName != "geoaugment-test" {
		t.Errorf("expected service name from argument, got %s", cfg.Telemetry.ServiceName)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("GEOAUGMENT_FETCH_MAX_REDIRECTS", "3")
	t.Setenv("GEOAUGMENT_SERVICE_LAYER", "Tamiko")

	cfg, err := config.Load("geoaugment-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Fetch.MaxRedirects != 3 {
		t.Errorf("expected 3 max redirects, got %d", cfg.Fetch.MaxRedirects)
	}
	if cfg.Service.Layer != "Tamiko" {
		t.Errorf("expected layer Tamiko, got %s", cfg.Service.Layer)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &config.Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"service.url", "fetch.page_timeout", "engine.tick_hz", "server.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected error to mention %s, got %v", want, err)
		}
	}
}

func TestValidate_NATSLocationNeedsNATS(t *testing.T) {
	cfg, err := config.Load("geoaugment-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.NATS.Enabled = false
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "location.source") {
		t.Errorf("expected location.source error, got %v", err)
	}

	cfg.Location.Source = "fixed"
	if err := cfg.Validate(); err != nil {
		t.Errorf("fixed location must not need NATS: %v", err)
	}
}
