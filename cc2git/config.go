// SPDX-License-Identifier: BSD-2-Clause

package main

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is everything a conversion can be told up front. Each field
// has a command that sets it interactively.
type Config struct {
	// Input is a version graph dump to read.
	Input string `yaml:"input"`
	// Reader is a command whose standard output is a dump.
	Reader string `yaml:"reader"`
	// Encoding is the IANA charset of version comments.
	Encoding string `yaml:"encoding"`
	// Branches are doublestar patterns selecting branches to convert.
	Branches []string `yaml:"branches"`
	// RootName is what the root line is called in the output.
	RootName string `yaml:"rootname"`
	// State is the incremental state database.
	State string `yaml:"state"`
	// Content is the directory file content references are under.
	Content     string `yaml:"content"`
	Output      string `yaml:"output"`
	// Authors is a contributor map file: "login = Name <email> [tz]".
	Authors     string `yaml:"authors"`
	EmailDomain string `yaml:"email_domain"`
	Committer   struct {
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
	} `yaml:"committer"`
	// Window bounds the label search, as a Go duration.
	Window string `yaml:"window"`
	// Log is a list of log class tokens such as "+labels".
	Log []string `yaml:"log"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := new(Config)
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if _, err := cfg.window(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) window() (time.Duration, error) {
	if cfg.Window == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(cfg.Window)
	if err != nil {
		return 0, fmt.Errorf("bad label window %q: %w", cfg.Window, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("label window %q must be positive", cfg.Window)
	}
	return d, nil
}

func (cfg *Config) dump() (string, error) {
	out, err := yaml.Marshal(cfg)
	return string(out), err
}
