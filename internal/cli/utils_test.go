package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/hyperjump/shashin/internal/app"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/search"
)

func sampleResponse() *models.SearchResponse {
	return &models.SearchResponse{
		Query:     "a dog on a beach",
		QueryTime: 12,
		Total:     2,
		Results: []*models.SearchResult{
			{Rank: 1, Score: 0.31, Image: &models.Image{ID: "img-1", Path: "/photos/dog.jpg", Width: 640, Height: 480, Format: "jpeg", CreatedAt: time.Now()}},
			{Rank: 2, Score: 0.22, Image: &models.Image{ID: "img-2", Path: "/photos/beach.png", Width: 800, Height: 600, Format: "png"}},
		},
	}
}

func TestWriteSearchResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.SearchResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "a dog on a beach" || decoded.Total != 2 {
		t.Errorf("decoded: %+v", decoded)
	}
	if len(decoded.Results) != 2 || decoded.Results[1].Image.ID != "img-2" {
		t.Errorf("results: %+v", decoded.Results)
	}
}

func TestWriteSearchResults_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 2 results", "/photos/dog.jpg", "id=img-2", "0.3100", "640x480"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "dog.jpg") > strings.Index(out, "beach.png") {
		t.Error("results out of rank order")
	}
}

func TestWriteSearchResults_Degraded(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteSearchResults(&buf, &models.SearchResponse{Degraded: true}, OutputText)
	if !strings.Contains(buf.String(), "unavailable") {
		t.Errorf("got %q", buf.String())
	}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"json", OutputJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteImages(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteImages(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty list: got %q", buf.String())
	}
	buf.Reset()
	images := []*models.Image{sampleResponse().Results[0].Image}
	if err := WriteImages(&buf, images, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "img-1") || !strings.Contains(buf.String(), "/photos/dog.jpg") {
		t.Errorf("text list: %q", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	st := &app.Status{
		Images:         3,
		DiskUsageBytes: 2048,
		ModelProvider:  "onnx",
		Preprocess:     "resize",
		Index:          &search.Stats{Size: 3, Dimensions: 512, IndexType: "flat", Dirty: true, Unsaved: 1},
	}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Images:      3", "2.0 KiB", "3 x 512 (flat)", "Unsaved:     1"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestWriteReport(t *testing.T) {
	rep := indexer.Report{Total: 4, Indexed: 2, Skipped: 1, Failed: 1, Duration: time.Second, SaveErr: errors.New("disk full")}
	var buf bytes.Buffer
	_ = WriteReport(&buf, rep, OutputText)
	if !strings.Contains(buf.String(), "Indexed 2 of 4") || !strings.Contains(buf.String(), "disk full") {
		t.Errorf("text report: %q", buf.String())
	}
	buf.Reset()
	if err := WriteReport(&buf, rep, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["save_error"] != "disk full" || out["indexed"] != float64(2) {
		t.Errorf("json report: %v", out)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
