package main

import (
	"slices"
	"testing"

	"github.com/pdejuan/gcnl-lite/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Host: "0.0.0.0", ServerPort: 7000, LogLevel: "info"},
		Pipeline: config.PipelineConfig{WorkerCount: 1, TimeoutMs: 30000},
	}
}

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "flags after positionals",
			in:   []string{"gcnl-lite", "es", "/models", "-p", "8000", "-X"},
			want: []string{"gcnl-lite", "-p", "8000", "-X", "--", "es", "/models"},
		},
		{
			name: "flags first",
			in:   []string{"gcnl-lite", "--ip=127.0.0.1", "es", "/models"},
			want: []string{"gcnl-lite", "--ip=127.0.0.1", "--", "es", "/models"},
		},
		{
			name: "no positionals",
			in:   []string{"gcnl-lite", "--help"},
			want: []string{"gcnl-lite", "--help"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reorderArgs(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("reorderArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewApp_ArgumentsOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	cfg := baseConfig()

	var got *config.Config
	app := newApp(cfg, func(c *config.Config) error {
		got = c
		return nil
	})

	args := reorderArgs([]string{"gcnl-lite", "es", dir, "-i", "127.0.0.1", "-p", "8123", "-X", "--workers", "3"})
	if err := app.Run(args); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if got == nil {
		t.Fatal("run was not called")
	}
	if got.Syntax.Language != "es" || got.Syntax.ModelDir != dir {
		t.Errorf("unexpected syntax config: %+v", got.Syntax)
	}
	if got.App.Host != "127.0.0.1" || got.App.ServerPort != 8123 {
		t.Errorf("unexpected listen address: %s", got.App.Addr())
	}
	if got.App.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %s", got.App.LogLevel)
	}
	if got.Pipeline.WorkerCount != 3 {
		t.Errorf("expected 3 workers, got %d", got.Pipeline.WorkerCount)
	}
	if got.Pipeline.TimeoutMs != 30000 {
		t.Errorf("timeout should keep its environment value, got %d", got.Pipeline.TimeoutMs)
	}
}

func TestNewApp_RejectsUnsupportedLanguage(t *testing.T) {
	called := false
	app := newApp(baseConfig(), func(*config.Config) error {
		called = true
		return nil
	})

	if err := app.Run([]string{"gcnl-lite", "--", "xx", t.TempDir()}); err == nil {
		t.Fatal("expected an error for an unsupported language")
	}
	if called {
		t.Error("run must not be called with an invalid configuration")
	}
}

func TestNewApp_MissingModelDir(t *testing.T) {
	app := newApp(baseConfig(), func(*config.Config) error { return nil })

	if err := app.Run([]string{"gcnl-lite", "--", "es", "/does/not/exist"}); err == nil {
		t.Fatal("expected an error for a missing model directory")
	}
}
