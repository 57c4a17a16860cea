package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/hyperjump/shashin/internal/app"
	"github.com/hyperjump/shashin/internal/models"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"a dog on the beach", "-limit", "5"},
			expected: []string{"-limit", "5", "a dog on the beach"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-limit", "5", "a dog on the beach"},
			expected: []string{"-limit", "5", "a dog on the beach"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"a dog on the beach"},
			expected: []string{"a dog on the beach"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"red", "car", "-output", "json"},
			expected: []string{"-output", "json", "red", "car"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"sunset"}, "sunset"},
		{"multiple words", []string{"red", "car"}, "red car"},
		{"single quoted phrase", []string{"red car"}, "red car"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "./data/images.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
	if filepath.Base(cfg.Storage.IndexPath) != "search_index.bin" {
		t.Errorf("index path not resolved: %q", cfg.Storage.IndexPath)
	}
}

func TestLoadConfig_defaultsWhenNoFile(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skip("system config present")
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty", resolved)
	}
	if cfg.Server.Port != 8080 || cfg.Storage.IndexPath == "" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestSearchViaHTTP(t *testing.T) {
	var gotQuery, gotLimit string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" {
			http.NotFound(w, r)
			return
		}
		gotQuery = r.URL.Query().Get("q")
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(models.SearchResponse{
			Query:   gotQuery,
			Total:   1,
			Results: []*models.SearchResult{{Rank: 1, Score: 0.3, Image: &models.Image{ID: "img-1"}}},
		})
	}))
	defer ts.Close()

	resp, err := searchViaHTTP(ts.Client(), ts.URL+"/", &models.SearchQuery{Query: "red car", Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "red car" || gotLimit != "3" {
		t.Errorf("server saw q=%q limit=%q", gotQuery, gotLimit)
	}
	if resp.Total != 1 || resp.Results[0].Image.ID != "img-1" {
		t.Errorf("response: %+v", resp)
	}
}

func TestSearchViaHTTP_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"query cannot be empty"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := searchViaHTTP(ts.Client(), ts.URL, &models.SearchQuery{Query: "x"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("expected 400 error, got %v", err)
	}
}

func TestStatusAndReloadViaHTTP(t *testing.T) {
	reloads := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/status":
			_ = json.NewEncoder(w).Encode(app.Status{Images: 7, ModelProvider: "onnx"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/index/reload":
			reloads++
			_, _ = w.Write([]byte(`{"reloaded":true,"size":7}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	st, err := statusViaHTTP(ts.Client(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if st.Images != 7 || st.ModelProvider != "onnx" {
		t.Errorf("status: %+v", st)
	}
	if err := reloadViaHTTP(ts.Client(), ts.URL); err != nil {
		t.Fatal(err)
	}
	if reloads != 1 {
		t.Errorf("reloads = %d", reloads)
	}
}
