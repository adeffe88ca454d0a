package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// pairDuration accepts "30s" style values in the pairs file.
type pairDuration time.Duration

func (d *pairDuration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = pairDuration(parsed)
	return nil
}

// pairProfile is one named entry in the pairs file:
//
//	pairs:
//	  docs:
//	    a: folder:/home/me/docs
//	    b: ftp://editor@files.example.com/docs
//	    interval: 1m
//	    exclude:
//	      - "*.tmp"
type pairProfile struct {
	A            string       `yaml:"a"`
	B            string       `yaml:"b"`
	Interval     pairDuration `yaml:"interval"`
	PollInterval pairDuration `yaml:"poll-interval"`
	Workers      int          `yaml:"workers"`
	Exclude      []string     `yaml:"exclude"`
}

type pairsFile struct {
	Pairs map[string]pairProfile `yaml:"pairs"`
}

func loadPairProfile(path, name string) (*pairProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pairs file: %w", err)
	}

	var file pairsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("pairs file %s: %w", path, err)
	}

	profile, ok := file.Pairs[name]
	if !ok {
		names := make([]string, 0, len(file.Pairs))
		for n := range file.Pairs {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("pair %q not found in %s (have: %s)", name, path, strings.Join(names, ", "))
	}
	if profile.A == "" || profile.B == "" {
		return nil, fmt.Errorf("pair %q: both a and b locations are required", name)
	}
	return &profile, nil
}
