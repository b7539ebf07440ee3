package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/adfharrison1/go-pivot/pkg/transform"
	"gopkg.in/yaml.v3"
)

// LoadTransforms reads transform definitions from YAML files. A directory
// contributes every *.yaml and *.yml file in it. A file may hold several
// definitions separated by "---".
func LoadTransforms(paths []string) ([]*transform.Config, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read transforms from %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
	}
	sort.Strings(files)

	var out []*transform.Config
	seen := make(map[string]string)
	for _, f := range files {
		cfgs, err := readTransformFile(f)
		if err != nil {
			return nil, err
		}
		for _, cfg := range cfgs {
			if prev, dup := seen[cfg.ID]; dup {
				return nil, fmt.Errorf("transform [%s] is defined in both %s and %s", cfg.ID, prev, f)
			}
			seen[cfg.ID] = f
			out = append(out, cfg)
		}
	}
	return out, nil
}

func readTransformFile(path string) ([]*transform.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var out []*transform.Config
	for {
		var cfg transform.Config
		err := dec.Decode(&cfg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, &cfg)
	}
	return out, nil
}
