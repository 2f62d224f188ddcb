// Package config loads the server configuration from a YAML file and
// fills in defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Listen   string `yaml:"listen"`
	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	Async AsyncConfig `yaml:"async"`
}

// AsyncConfig tunes the deferred ingestion worker.
type AsyncConfig struct {
	PollInterval Duration `yaml:"pollInterval"`
	JitterBase   Duration `yaml:"jitterBase"`
	JitterSpread Duration `yaml:"jitterSpread"`
}

// Duration parses YAML values like "500ms" or "5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func defaults() Config {
	return Config{
		Listen:   ":8080",
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads the YAML file at path. A missing file is not an error;
// the defaults are returned so the server can run without any config.
func Load(path string) (Config, error) {
	conf := defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return conf, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if conf.Listen == "" {
		conf.Listen = defaults().Listen
	}
	if conf.DataDir == "" {
		conf.DataDir = defaults().DataDir
	}
	if conf.LogLevel == "" {
		conf.LogLevel = defaults().LogLevel
	}
	return conf, nil
}
