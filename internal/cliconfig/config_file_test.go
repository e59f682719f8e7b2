package cliconfig

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				ServiceURL:       "https://cmms.example.com",
				DataDir:          "/file/data",
				ProbeTimeout:     "3s",
				MaxAttempts:      6,
				CacheBudgetBytes: 4096,
				Collections:      []string{"asset"},
			},
			changed: map[string]bool{},
			expected: Config{
				ServiceURL:       "https://cmms.example.com",
				DataDir:          "/file/data",
				ProbeTimeout:     3 * time.Second,
				MaxAttempts:      6,
				CacheBudgetBytes: 4096,
				Collections:      []string{"asset"},
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				DataDir:     "/file/data",
				MaxAttempts: 6,
			},
			changed: map[string]bool{"data-dir": true, "max-attempts": true},
			initial: Config{DataDir: "/flag/data", MaxAttempts: 2},
			expected: Config{
				DataDir:     "/flag/data",
				MaxAttempts: 2,
			},
		},
		{
			name: "zero values keep defaults",
			fileConfig: FileConfig{
				DataDir: "/file/data",
			},
			changed: map[string]bool{},
			initial: Config{MaxAttempts: 10, ProbeTimeout: 5 * time.Second},
			expected: Config{
				DataDir:      "/file/data",
				MaxAttempts:  10,
				ProbeTimeout: 5 * time.Second,
			},
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{SyncInterval: "soon"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)
			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}
			if cfg.ServiceURL != tt.expected.ServiceURL {
				t.Errorf("ServiceURL = %v, want %v", cfg.ServiceURL, tt.expected.ServiceURL)
			}
			if cfg.DataDir != tt.expected.DataDir {
				t.Errorf("DataDir = %v, want %v", cfg.DataDir, tt.expected.DataDir)
			}
			if cfg.ProbeTimeout != tt.expected.ProbeTimeout {
				t.Errorf("ProbeTimeout = %v, want %v", cfg.ProbeTimeout, tt.expected.ProbeTimeout)
			}
			if cfg.MaxAttempts != tt.expected.MaxAttempts {
				t.Errorf("MaxAttempts = %v, want %v", cfg.MaxAttempts, tt.expected.MaxAttempts)
			}
			if cfg.CacheBudgetBytes != tt.expected.CacheBudgetBytes {
				t.Errorf("CacheBudgetBytes = %v, want %v", cfg.CacheBudgetBytes, tt.expected.CacheBudgetBytes)
			}
			if !slices.Equal(cfg.Collections, tt.expected.Collections) {
				t.Errorf("Collections = %v, want %v", cfg.Collections, tt.expected.Collections)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, fc FileConfig)
	}{
		{
			name: "valid toml",
			content: strings.TrimSpace(`
service_url = "https://cmms.example.com"
auth_token = "secret"
offline_probe_interval = "10s"
max_attempts = 5
cache_budget_bytes = 1048576
collections = ["work_order", "asset"]
listen_addr = "127.0.0.1:9000"
`),
			check: func(t *testing.T, fc FileConfig) {
				if fc.ServiceURL != "https://cmms.example.com" {
					t.Errorf("ServiceURL = %v", fc.ServiceURL)
				}
				if fc.OfflineProbeInterval != "10s" {
					t.Errorf("OfflineProbeInterval = %v", fc.OfflineProbeInterval)
				}
				if fc.MaxAttempts != 5 || fc.CacheBudgetBytes != 1<<20 {
					t.Errorf("numbers = %d, %d", fc.MaxAttempts, fc.CacheBudgetBytes)
				}
				if !slices.Equal(fc.Collections, []string{"work_order", "asset"}) {
					t.Errorf("Collections = %v", fc.Collections)
				}
				if fc.ListenAddr != "127.0.0.1:9000" {
					t.Errorf("ListenAddr = %v", fc.ListenAddr)
				}
			},
		},
		{
			name:    "invalid toml",
			content: "max_attempts = [",
			wantErr: true,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "config"+string(rune('a'+i))+".toml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			fc, err := LoadFileConfig(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadFileConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, fc)
			}
		})
	}

	if _, err := LoadFileConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("LoadFileConfig() on missing file expected error")
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if FileExists(path) {
		t.Error("FileExists() = true before create")
	}
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("FileExists() = false after create")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("HOME", "/home/tech")
	if got := DefaultConfigPath(); got != filepath.Join("/home/tech", ".offsync", "config.toml") {
		t.Errorf("DefaultConfigPath() = %v", got)
	}
}
