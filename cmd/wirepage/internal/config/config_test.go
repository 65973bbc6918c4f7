package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		content   string
		wantPages string
		wantPort  int
		wantCodec string
		wantTUI   bool
	}{
		{
			name:      "no config",
			wantPages: "pages",
			wantPort:  8080,
			wantCodec: "json",
		},
		{
			name:      "yaml",
			file:      FileName,
			content:   "pagesDir: site\nport: 3000\ncodec: msgpack\nbuild:\n  tui: true\n",
			wantPages: "site",
			wantPort:  3000,
			wantCodec: "msgpack",
			wantTUI:   true,
		},
		{
			name:      "json fallback",
			file:      LegacyFileName,
			content:   `{"pagesDir": "web", "debug": true}`,
			wantPages: "web",
			wantPort:  8080,
			wantCodec: "json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if tt.file != "" {
				if err := os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}
			config, err := Load(dir)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if config.PagesDir != tt.wantPages {
				t.Errorf("Expected pagesDir %s, got %s", tt.wantPages, config.PagesDir)
			}
			if config.Port != tt.wantPort {
				t.Errorf("Expected port %d, got %d", tt.wantPort, config.Port)
			}
			if config.Codec != tt.wantCodec {
				t.Errorf("Expected codec %s, got %s", tt.wantCodec, config.Codec)
			}
			if config.Build.TUI != tt.wantTUI {
				t.Errorf("Expected build.tui %v, got %v", tt.wantTUI, config.Build.TUI)
			}
			if config.Watch == nil || len(config.Watch.Ignore) == 0 {
				t.Error("Expected default watch.ignore patterns")
			}
		})
	}
}

func TestLoad_PrefersYAML(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, FileName), []byte("pagesDir: from-yaml\n"), 0644)
	os.WriteFile(filepath.Join(dir, LegacyFileName), []byte(`{"pagesDir": "from-json"}`), 0644)

	config, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.PagesDir != "from-yaml" {
		t.Errorf("Expected from-yaml, got %s", config.PagesDir)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, FileName), []byte("port: [1, 2\n"), 0644)
	if _, err := Load(dir); err == nil {
		t.Error("Expected a parse error")
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	spa := true
	config := DefaultConfig()
	config.Spa = &spa
	config.Watch.Ignore = []string{"tmp"}

	if err := Save(config, dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Spa == nil || !*loaded.Spa {
		t.Errorf("Expected spa true, got %v", loaded.Spa)
	}
	if len(loaded.Watch.Ignore) != 1 || loaded.Watch.Ignore[0] != "tmp" {
		t.Errorf("Expected ignore [tmp], got %v", loaded.Watch.Ignore)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Port = 70000 }, true},
		{"bad codec", func(c *Config) { c.Codec = "xml" }, true},
		{"bad glob", func(c *Config) { c.Watch.Ignore = []string{"[a"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIgnored(t *testing.T) {
	config := DefaultConfig()
	tests := []struct {
		name string
		want bool
	}{
		{".git", true},
		{"node_modules", true},
		{"index.wire~", true},
		{"index.wire", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.Ignored(tt.name); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
