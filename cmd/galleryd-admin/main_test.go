package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/galleryd/galleryd/internal/backfill"
	"github.com/galleryd/galleryd/internal/metadata"
)

// writeConfig points the local metadata engine and local storage at temp
// directories and returns the config path and the metadata root.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	metaRoot := filepath.Join(dir, "metadata")
	cfg := fmt.Sprintf(`metadata:
  engine: local
  local:
    root_dir: %q
storage:
  local:
    root_dir: %q
logging:
  level: error
`, metaRoot, filepath.Join(dir, "media"))
	path := filepath.Join(dir, "galleryd.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, metaRoot
}

func seedImage(t *testing.T, metaRoot string) {
	t.Helper()
	store, err := metadata.NewLocalStore(metaRoot, false)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.CreateImage(context.Background(), &metadata.ImageRecord{Name: "gone.jpg"}); err != nil {
		t.Fatal(err)
	}
}

func TestUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	if rc := run([]string{"frobnicate"}, nil, &bytes.Buffer{}, &stderr); rc != 1 {
		t.Errorf("rc = %d", rc)
	}
	if !strings.Contains(stderr.String(), "Unknown command") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if rc := run(nil, nil, &bytes.Buffer{}, &bytes.Buffer{}); rc != 1 {
		t.Errorf("no args rc = %d", rc)
	}
}

func TestBackfillDryRunThenPersist(t *testing.T) {
	cfgPath, metaRoot := writeConfig(t)
	seedImage(t, metaRoot)

	var stdout, stderr bytes.Buffer
	if rc := run([]string{"backfill", "-config", cfgPath}, nil, &stdout, &stderr); rc != 0 {
		t.Fatalf("rc = %d, stderr %s", rc, stderr.String())
	}
	var report backfill.Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Persisted || len(report.Entries) != 1 || report.Entries[0].Source != backfill.SourceMissingFile {
		t.Errorf("dry run report = %+v", report)
	}

	stdout.Reset()
	if rc := run([]string{"backfill", "-config", cfgPath, "-persist"}, nil, &stdout, &stderr); rc != 0 {
		t.Fatalf("persist rc = %d, stderr %s", rc, stderr.String())
	}

	store, err := metadata.NewLocalStore(metaRoot, false)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	pending, err := store.ImagesMissingDateTaken(context.Background())
	if err != nil || len(pending) != 0 {
		t.Errorf("pending after persist = %+v, %v", pending, err)
	}
}

func TestExportImport(t *testing.T) {
	srcCfg, srcRoot := writeConfig(t)
	seedImage(t, srcRoot)

	out := filepath.Join(t.TempDir(), "export.json")
	var stderr bytes.Buffer
	if rc := run([]string{"export", "-config", srcCfg, "-output", out}, nil, &bytes.Buffer{}, &stderr); rc != 0 {
		t.Fatalf("export rc = %d, stderr %s", rc, stderr.String())
	}

	dstCfg, dstRoot := writeConfig(t)
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	stderr.Reset()
	if rc := run([]string{"import", "-config", dstCfg}, bytes.NewReader(data), &bytes.Buffer{}, &stderr); rc != 0 {
		t.Fatalf("import rc = %d, stderr %s", rc, stderr.String())
	}
	if !strings.Contains(stderr.String(), "images: 1 imported") {
		t.Errorf("stderr = %q", stderr.String())
	}

	store, err := metadata.NewLocalStore(dstRoot, false)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	images, _ := store.ListImages(context.Background())
	if len(images) != 1 || images[0].Name != "gone.jpg" {
		t.Errorf("imported images = %+v", images)
	}
}

func TestParseTables(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"", 3, false},
		{"albums, images", 2, false},
		{"albums,buckets", 0, true},
	}
	for _, tt := range tests {
		got, err := parseTables(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseTables(%q) err = %v", tt.in, err)
			continue
		}
		if len(got) != tt.want {
			t.Errorf("parseTables(%q) = %v", tt.in, got)
		}
	}
}
