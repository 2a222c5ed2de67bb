// Package config loads mash's optional on-disk defaults file and the
// plain-text hosts files the "--hosts-file" flag accepts.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults holds the subset of CLI flags an operator can pin in
// "~/.mash.yaml" so they don't have to be retyped on every invocation.
type Defaults struct {
	SSHTemplate string `yaml:"ssh,omitempty"`
	User        string `yaml:"user,omitempty"`
	NoColor     bool   `yaml:"no_color,omitempty"`
	AbortErrors bool   `yaml:"abort_errors,omitempty"`
	Debug       bool   `yaml:"debug,omitempty"`
}

// DefaultsPath returns the standard location of the defaults file.
func DefaultsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mash.yaml"
	}
	return filepath.Join(home, ".mash.yaml")
}

// LoadDefaults reads path, returning a zero Defaults (not an error) if the
// file doesn't exist - the defaults file is entirely optional.
func LoadDefaults(path string) (*Defaults, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Defaults{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &d, nil
}

// ReadHostsFile reads one hostname per line from path, stripping
// "#"-prefixed comments and blank lines.
func ReadHostsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open hosts file %s: %w", path, err)
	}
	defer f.Close()

	var hosts []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line != "" {
			hosts = append(hosts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scan hosts file %s: %w", path, err)
	}
	return hosts, nil
}
