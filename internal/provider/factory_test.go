package provider

import (
	"context"
	"strings"
	"testing"

	"aina/internal/config"
)

func TestFactory_GetCachesAndRejectsDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["openai"] = config.ProviderConfig{Enabled: true, APIKey: "sk-test"}
	f := NewFactory(cfg, testLogger())

	p1, err := f.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	p2, _ := f.Get(context.Background(), "openai")
	if p1 != p2 {
		t.Fatal("expected cached instance")
	}

	if _, err := f.Get(context.Background(), "gemini"); err == nil {
		t.Fatal("disabled provider should fail")
	}
	if _, err := f.Get(context.Background(), "missing"); err == nil {
		t.Fatal("unknown provider should fail")
	}
}

func TestFactory_UnknownNameWithBaseIsOpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.groq.com/openai/v1", APIKey: "k"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get(context.Background(), "groq")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Name() != "groq" {
		t.Fatalf("expected name groq, got %q", p.Name())
	}
}

func TestFactory_GeneratorBuildsFailoverChain(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["backup"] = config.ProviderConfig{Enabled: true, APIBase: "http://127.0.0.1:1/v1"}
	cfg.Generator.FailoverChain = []string{"openai", "gemini", "backup"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Generator(context.Background())
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	// gemini is disabled by default and is skipped.
	if !strings.HasPrefix(p.Name(), "failover(") || strings.Contains(p.Name(), "gemini") {
		t.Fatalf("unexpected chain %q", p.Name())
	}
}

func TestFactory_Speech(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	s, err := f.Speech()
	if err != nil || s.Name() != "openai" {
		t.Fatalf("expected openai speech, got %v %v", s, err)
	}

	cfg.Speech.Provider = "whisper"
	if s, _ := f.Speech(); s.Name() != "whisper" {
		t.Fatalf("expected whisper, got %s", s.Name())
	}

	cfg.Speech.Provider = "vosk"
	if _, err := f.Speech(); err == nil {
		t.Fatal("expected error for unknown speech provider")
	}
}
