package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// config mirrors the command-line flags. Flags given explicitly override
// values read from the YAML file.
type config struct {
	File        string        `yaml:"file"`
	Module      string        `yaml:"module"`
	Eval        string        `yaml:"eval"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxHeapMB   uint64        `yaml:"max_heap_mb"`
	ModuleRoot  string        `yaml:"module_root"`
	Require     string        `yaml:"require"`
	Verbose     bool          `yaml:"verbose"`
	Interactive bool          `yaml:"interactive"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// merge overlays the flags in set onto c.
func (c *config) merge(flags config, set map[string]bool) {
	if set["file"] {
		c.File = flags.File
	}
	if set["module"] {
		c.Module = flags.Module
	}
	if set["e"] {
		c.Eval = flags.Eval
	}
	if set["timeout"] {
		c.Timeout = flags.Timeout
	}
	if set["max-heap"] {
		c.MaxHeapMB = flags.MaxHeapMB
	}
	if set["module-root"] {
		c.ModuleRoot = flags.ModuleRoot
	}
	if set["require"] {
		c.Require = flags.Require
	}
	if set["v"] {
		c.Verbose = flags.Verbose
	}
	if set["i"] {
		c.Interactive = flags.Interactive
	}
}

func (c config) validate() error {
	n := 0
	for _, s := range []string{c.File, c.Module, c.Eval} {
		if s != "" {
			n++
		}
	}
	switch {
	case n > 1:
		return fmt.Errorf("only one of -file, -module and -e may be given")
	case n == 0 && !c.Interactive:
		return fmt.Errorf("nothing to run: give -file, -module, -e or -i")
	case c.Timeout < 0:
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}
