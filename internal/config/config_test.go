package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.SegmentMS != 200 {
		t.Fatalf("expected default segment duration 200ms, got %d", cfg.Capture.SegmentMS)
	}
	if cfg.Routing.ConfidenceThreshold != 0.75 || cfg.Routing.NoiseThreshold != 0.6 {
		t.Fatalf("unexpected default routing thresholds: %+v", cfg.Routing)
	}
	if cfg.Merger.HistorySize != 100 {
		t.Fatalf("expected default history size 100, got %d", cfg.Merger.HistorySize)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LIVESPEAK_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LIVESPEAK_BUS_USERNAME", "alice")
	t.Setenv("LIVESPEAK_BUS_PASSWORD", "secret")
	t.Setenv("LIVESPEAK_CAPTURE_SEGMENT_MS", "250")
	t.Setenv("LIVESPEAK_CAPTURE_SILENCE_RMS", "0.02")
	t.Setenv("LIVESPEAK_ROUTING_CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("LIVESPEAK_ROUTING_NOISE_THRESHOLD", "0.5")
	t.Setenv("LIVESPEAK_MERGER_HISTORY_SIZE", "50")
	t.Setenv("LIVESPEAK_PERSISTENCE_PATH", "./tmp.db")
	t.Setenv("LIVESPEAK_PERSISTENCE_RETENTION_MODE", "persistent")
	t.Setenv("LIVESPEAK_PERSISTENCE_QUEUE_SIZE", "64")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Capture.SegmentMS != 250 {
		t.Fatalf("expected segment duration override, got %d", cfg.Capture.SegmentMS)
	}
	if cfg.Capture.SilenceRMS != 0.02 {
		t.Fatalf("expected silence rms override, got %f", cfg.Capture.SilenceRMS)
	}
	if cfg.Routing.ConfidenceThreshold != 0.8 || cfg.Routing.NoiseThreshold != 0.5 {
		t.Fatalf("expected routing threshold overrides, got %+v", cfg.Routing)
	}
	if cfg.Merger.HistorySize != 50 {
		t.Fatalf("expected history size override, got %d", cfg.Merger.HistorySize)
	}
	if cfg.Persistence.Path != "./tmp.db" {
		t.Fatalf("expected persistence path override")
	}
	if cfg.Persistence.RetentionMode != "persistent" {
		t.Fatalf("expected retention mode override")
	}
	if cfg.Persistence.QueueSize != 64 {
		t.Fatalf("expected queue size override, got %d", cfg.Persistence.QueueSize)
	}
}

func TestValidateRejectsRetryNotShorter(t *testing.T) {
	cfg := Default()
	cfg.Cloud.Enabled = true
	cfg.Cloud.TimeoutMS = 1000
	cfg.Cloud.RetryTimeoutMS = 1000
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for retry timeout not shorter than timeout")
	}
}

func TestValidateRejectsBadEdgeMode(t *testing.T) {
	cfg := Default()
	cfg.Edge.Mode = "whisper"
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unsupported edge mode")
	}
}
