package queue

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk shape of a manual backlog seed.
type seedFile struct {
	Issues []Candidate `yaml:"issues"`
}

// LoadSeedFile parses a YAML seed file of candidates, e.g.:
//
//	issues:
//	  - url: https://github.com/acme/api/issues/42
//	    project: acme/api
//	    title: Fix token refresh
func LoadSeedFile(path string) ([]Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for i, c := range f.Issues {
		if c.URL == "" {
			return nil, fmt.Errorf("seed file %s: issue %d has no url", path, i)
		}
	}
	return f.Issues, nil
}

// SeedFromFile admits every candidate in a seed file, returning how
// many were newly added versus already known.
func (m *Manager) SeedFromFile(ctx context.Context, path string) (added, skipped int, err error) {
	candidates, err := LoadSeedFile(path)
	if err != nil {
		return 0, 0, err
	}

	for _, c := range candidates {
		ok, err := m.Admit(ctx, c)
		if err != nil {
			return added, skipped, err
		}
		if ok {
			added++
		} else {
			skipped++
		}
	}

	m.logger.Info("seed file ingested", "path", path, "added", added, "skipped", skipped)
	return added, skipped, nil
}
