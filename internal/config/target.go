// Package config loads and validates the target configuration document:
// the list of SQL Server instances an audit run collects from, plus the
// sync options that govern parallelism. It follows the corpus's own
// viper.New()+SetConfigFile()+ReadInConfig() idiom rather than viper's
// global singleton, so multiple configs can be loaded in the same
// process (tests load several fixtures side by side).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AuthMode is the closed set of authentication strategies a target may
// use.
type AuthMode string

const (
	AuthWindows AuthMode = "windows"
	AuthSQL     AuthMode = "sql"
)

// Target is one SQL Server instance to audit.
type Target struct {
	Server         string        `mapstructure:"server"`
	Instance       string        `mapstructure:"instance"`
	Port           int           `mapstructure:"port"`
	Auth           AuthMode      `mapstructure:"auth"`
	CredentialRef  string        `mapstructure:"credential_ref"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	Tags           []string      `mapstructure:"tags"`
}

// SyncOptions governs the Sync Orchestrator's Collect phase parallelism.
type SyncOptions struct {
	MaxParallelTargets int `mapstructure:"max_parallel_targets"`
}

// Document is the root of the target configuration file.
type Document struct {
	Organization string      `mapstructure:"organization"`
	Targets      []Target    `mapstructure:"targets"`
	Sync         SyncOptions `mapstructure:"sync"`
}

const DefaultMaxParallelTargets = 4

// Load reads and validates a target configuration document from path.
// The file format (yaml/json/toml) is inferred by viper from the file
// extension.
func Load(path string) (*Document, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := doc.applyDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &doc, nil
}

func (d *Document) applyDefaultsAndValidate() error {
	if d.Organization == "" {
		return fmt.Errorf("organization is required")
	}
	if len(d.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	if d.Sync.MaxParallelTargets <= 0 {
		d.Sync.MaxParallelTargets = DefaultMaxParallelTargets
	}

	seen := make(map[string]bool, len(d.Targets))
	for i := range d.Targets {
		t := &d.Targets[i]
		if t.Server == "" {
			return fmt.Errorf("targets[%d]: server is required", i)
		}
		if t.Instance == "" {
			t.Instance = "MSSQLSERVER"
		}
		if t.Port == 0 {
			t.Port = 1433
		}
		switch t.Auth {
		case AuthWindows, AuthSQL:
		case "":
			t.Auth = AuthWindows
		default:
			return fmt.Errorf("targets[%d]: unknown auth mode %q", i, t.Auth)
		}
		if t.Auth == AuthSQL && t.CredentialRef == "" {
			return fmt.Errorf("targets[%d]: credential_ref is required for sql auth", i)
		}
		if t.ConnectTimeout == 0 {
			t.ConnectTimeout = 15 * time.Second
		}
		if t.QueryTimeout == 0 {
			t.QueryTimeout = 60 * time.Second
		}

		key := t.Server + "\x00" + t.Instance
		if seen[key] {
			return fmt.Errorf("targets[%d]: duplicate target %s\\%s", i, t.Server, t.Instance)
		}
		seen[key] = true
	}
	return nil
}
