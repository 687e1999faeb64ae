package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Dispatch.CooldownMS != 2000 {
		t.Fatalf("expected default cooldown 2000ms, got %d", cfg.Dispatch.CooldownMS)
	}
	if cfg.TTS.LoadTimeoutMS != 5000 {
		t.Fatalf("expected default tts load timeout 5000ms, got %d", cfg.TTS.LoadTimeoutMS)
	}
	if cfg.Voice.RetryThreshold != 2 {
		t.Fatalf("expected default retry threshold 2, got %d", cfg.Voice.RetryThreshold)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOXLIST_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOXLIST_BUS_USERNAME", "alice")
	t.Setenv("VOXLIST_BUS_PASSWORD", "secret")
	t.Setenv("VOXLIST_BUS_TLS_INSECURE", "true")
	t.Setenv("VOXLIST_CAPTURE_PREFERRED_FORMATS", "audio/ogg;codecs=opus,audio/mp4")
	t.Setenv("VOXLIST_DISPATCH_COOLDOWN_MS", "1500")
	t.Setenv("VOXLIST_NLU_MIN_CONFIDENCE", "0.5")
	t.Setenv("VOXLIST_VOICE_CONTINUOUS_LISTENING", "false")
	t.Setenv("VOXLIST_EVENT_STORE_RETENTION_MODE", "persistent")

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
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if len(cfg.Capture.PreferredFormats) != 2 || cfg.Capture.PreferredFormats[0] != "audio/ogg;codecs=opus" {
		t.Fatalf("expected preferred formats override, got %v", cfg.Capture.PreferredFormats)
	}
	if cfg.Dispatch.CooldownMS != 1500 {
		t.Fatalf("expected cooldown override, got %d", cfg.Dispatch.CooldownMS)
	}
	if cfg.NLU.MinConfidence != 0.5 {
		t.Fatalf("expected min confidence override, got %v", cfg.NLU.MinConfidence)
	}
	if cfg.Voice.ContinuousListening {
		t.Fatal("expected continuous listening override false")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected retention mode override")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("VOXLIST_EVENT_STORE_RETENTION_MODE", "forever")
	if _, err := Load(""); err == nil {
		t.Fatal("expected retention mode validation error")
	}
}
