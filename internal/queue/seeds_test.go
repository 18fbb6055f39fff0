package queue

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	return path
}

func TestLoadSeedFile(t *testing.T) {
	path := writeSeed(t, `
issues:
  - url: https://github.com/acme/api/issues/42
    project: acme/api
    title: Fix token refresh
    labels: [bug, auth]
  - url: https://github.com/acme/web/issues/7
    project: acme/web
    title: Login page slow
`)

	candidates, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile() error = %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("LoadSeedFile() returned %d candidates, want 2", len(candidates))
	}
	c := candidates[0]
	if c.URL != "https://github.com/acme/api/issues/42" || c.ProjectID != "acme/api" {
		t.Errorf("candidate[0] = %+v", c)
	}
	if len(c.Labels) != 2 || c.Labels[0] != "bug" {
		t.Errorf("candidate[0].Labels = %v, want [bug auth]", c.Labels)
	}
}

func TestLoadSeedFileMissingURL(t *testing.T) {
	path := writeSeed(t, `
issues:
  - title: no url here
`)
	if _, err := LoadSeedFile(path); err == nil {
		t.Error("LoadSeedFile() accepted an issue without a url")
	}
}

func TestLoadSeedFileBadYAML(t *testing.T) {
	path := writeSeed(t, "issues: [notvalid")
	if _, err := LoadSeedFile(path); err == nil {
		t.Error("LoadSeedFile() accepted malformed YAML")
	}
}

func TestSeedFromFileDedupes(t *testing.T) {
	path := writeSeed(t, `
issues:
  - url: https://github.com/acme/api/issues/1
  - url: https://github.com/acme/api/issues/1
  - url: https://github.com/acme/api/issues/2
`)

	m, _ := newManager(t, Config{}, nil, nil, nil, nil)
	added, skipped, err := m.SeedFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("SeedFromFile() error = %v", err)
	}
	if added != 2 || skipped != 1 {
		t.Errorf("SeedFromFile() = (added %d, skipped %d), want (2, 1)", added, skipped)
	}
}
