package config_test

import (
	"strings"
	"testing"

	"github.com/nilstrand/voicegate/internal/config"
)

func TestValidate_UnknownProviderNameWarnsNotErrors(t *testing.T) {
	t.Parallel()
	yaml := `
gateway:
  listen_addr: ":8080"
providers:
  llm:
    name: some-experimental-provider
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unknown provider name should only warn, got error: %v", err)
	}
	if cfg.Providers.LLM.Name != "some-experimental-provider" {
		t.Errorf("provider name should be preserved, got %q", cfg.Providers.LLM.Name)
	}
}

func TestValidate_NoProvidersConfiguredIsValid(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("gateway:\n  listen_addr: \":8080\"\n"))
	if err != nil {
		t.Fatalf("a config with no providers should load with warnings, not fail: %v", err)
	}
}

func TestValidate_DefaultsApplied(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("gateway:\n  listen_addr: \":8080\"\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Gateway.TTSWorkerPoolSize != 3 {
		t.Errorf("tts_worker_pool_size default = %d, want 3", cfg.Gateway.TTSWorkerPoolSize)
	}
	if cfg.Gateway.STTQueueCapacity != 400 {
		t.Errorf("stt_queue_capacity default = %d, want 400", cfg.Gateway.STTQueueCapacity)
	}
	if cfg.Session.HistoryCap != 5 {
		t.Errorf("session.history_cap default = %d, want 5", cfg.Session.HistoryCap)
	}
}

func TestValidate_ExplicitValuesOverrideDefaults(t *testing.T) {
	t.Parallel()
	yaml := `
gateway:
  listen_addr: ":8080"
  tts_worker_pool_size: 8
session:
  history_cap: 10
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Gateway.TTSWorkerPoolSize != 8 {
		t.Errorf("tts_worker_pool_size = %d, want 8", cfg.Gateway.TTSWorkerPoolSize)
	}
	if cfg.Session.HistoryCap != 10 {
		t.Errorf("session.history_cap = %d, want 10", cfg.Session.HistoryCap)
	}
}

func TestValidate_MalformedYAMLFails(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("gateway: [this, is, not, a, map]\n"))
	if err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_MCPUnknownTransportRejected(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Gateway: config.GatewayConfig{ListenAddr: ":8080"},
		MCP: config.MCPConfig{Servers: []config.MCPServerConfig{
			{Name: "x", Transport: "carrier-pigeon", Command: "noop"},
		}},
	}
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "invalid") {
		t.Fatalf("expected invalid-transport error, got %v", err)
	}
}

func TestValidate_MCPServerNameRequired(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Gateway: config.GatewayConfig{ListenAddr: ":8080"},
		MCP:     config.MCPConfig{Servers: []config.MCPServerConfig{{Transport: "stdio", Command: "noop"}}},
	}
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Fatalf("expected name-required error, got %v", err)
	}
}
