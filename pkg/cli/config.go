// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-objsync/pkg/common"
	"github.com/jeremyhahn/go-objsync/pkg/replication"
)

const (
	// BackendLocal represents the local filesystem backend type
	BackendLocal   = "local"
	BackendMemory  = "memory"
	BackendS3      = "s3"
	BackendWebDAV  = "webdav"
	BackendGitHost = "githost"
)

// Config holds the CLI configuration settings.
type Config struct {
	Backend         string  `json:"backend" yaml:"backend"`
	BackendPath     string  `json:"backend_path,omitempty" yaml:"backend_path,omitempty"`
	BackendBucket   string  `json:"backend_bucket,omitempty" yaml:"backend_bucket,omitempty"`
	BackendRegion   string  `json:"backend_region,omitempty" yaml:"backend_region,omitempty"`
	BackendKey      string  `json:"backend_key,omitempty" yaml:"backend_key,omitempty"`
	BackendSecret   string  `json:"backend_secret,omitempty" yaml:"backend_secret,omitempty"`
	BackendURL      string  `json:"backend_url,omitempty" yaml:"backend_url,omitempty"`
	BackendUser     string  `json:"backend_user,omitempty" yaml:"backend_user,omitempty"`
	BackendPassword string  `json:"backend_password,omitempty" yaml:"backend_password,omitempty"`
	BackendToken    string  `json:"backend_token,omitempty" yaml:"backend_token,omitempty"`
	BackendOwner    string  `json:"backend_owner,omitempty" yaml:"backend_owner,omitempty"`
	BackendOrg      string  `json:"backend_org,omitempty" yaml:"backend_org,omitempty"`
	BackendBranch   string  `json:"backend_branch,omitempty" yaml:"backend_branch,omitempty"`
	RateLimit       float64 `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RateBurst       int     `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`

	Staging     string `json:"staging" yaml:"staging"`
	StagingPath string `json:"staging_path,omitempty" yaml:"staging_path,omitempty"`

	StorePrefix string        `json:"store_prefix,omitempty" yaml:"store_prefix,omitempty"`
	EntryName   string        `json:"entry_name" yaml:"entry_name"`
	ChunkSize   int           `json:"chunk_size" yaml:"chunk_size"`
	Debounce    time.Duration `json:"debounce" yaml:"debounce"`
	Workers     int           `json:"workers" yaml:"workers"`

	OutputFormat string `json:"output_format" yaml:"output_format"`
	LogFile      string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	LogLevel     string `json:"log_level" yaml:"log_level"`
	AuditFile    string `json:"audit_file,omitempty" yaml:"audit_file,omitempty"`
}

// InitConfig initializes the configuration using Viper.
// Configuration priority: flags > env vars > config file > defaults.
func InitConfig(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("backend", BackendLocal)
	v.SetDefault("backend-path", "./stores")
	v.SetDefault("staging", "sqlite")
	v.SetDefault("staging-path", "~/.objsync/staging.db")
	v.SetDefault("entry-name", common.DefaultEntryName)
	v.SetDefault("chunk-size", replication.DefaultChunkSize)
	v.SetDefault("debounce", replication.DefaultDebounce)
	v.SetDefault("workers", replication.DefaultWorkers)
	v.SetDefault("output-format", string(FormatText))
	v.SetDefault("log-level", "warn")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".objsync")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("OBJSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	return v, nil
}

// GetConfig extracts the configuration from Viper into a Config struct.
func GetConfig(v *viper.Viper) *Config {
	return &Config{
		Backend:         v.GetString("backend"),
		BackendPath:     v.GetString("backend-path"),
		BackendBucket:   v.GetString("backend-bucket"),
		BackendRegion:   v.GetString("backend-region"),
		BackendKey:      v.GetString("backend-key"),
		BackendSecret:   v.GetString("backend-secret"),
		BackendURL:      v.GetString("backend-url"),
		BackendUser:     v.GetString("backend-user"),
		BackendPassword: v.GetString("backend-password"),
		BackendToken:    v.GetString("backend-token"),
		BackendOwner:    v.GetString("backend-owner"),
		BackendOrg:      v.GetString("backend-org"),
		BackendBranch:   v.GetString("backend-branch"),
		RateLimit:       v.GetFloat64("rate-limit"),
		RateBurst:       v.GetInt("rate-burst"),
		Staging:         v.GetString("staging"),
		StagingPath:     v.GetString("staging-path"),
		StorePrefix:     v.GetString("store-prefix"),
		EntryName:       v.GetString("entry-name"),
		ChunkSize:       v.GetInt("chunk-size"),
		Debounce:        v.GetDuration("debounce"),
		Workers:         v.GetInt("workers"),
		OutputFormat:    v.GetString("output-format"),
		LogFile:         v.GetString("log-file"),
		LogLevel:        v.GetString("log-level"),
		AuditFile:       v.GetString("audit-file"),
	}
}

// GetSyncerSettings converts Config to the settings map of the selected
// backend.
func (c *Config) GetSyncerSettings() map[string]string {
	settings := make(map[string]string)
	set := func(key, value string) {
		if value != "" {
			settings[key] = value
		}
	}

	set("entry", c.EntryName)
	switch c.Backend {
	case BackendLocal:
		set("path", c.BackendPath)
		set("owner", c.BackendOwner)
	case BackendMemory:
		set("owner", c.BackendOwner)
	case BackendS3:
		set("bucket", c.BackendBucket)
		set("region", c.BackendRegion)
		set("accessKeyId", c.BackendKey)
		set("secretAccessKey", c.BackendSecret)
		set("endpoint", c.BackendURL)
		set("prefix", c.BackendPath)
		if c.BackendURL != "" {
			settings["usePathStyle"] = "true"
		}
	case BackendWebDAV:
		set("endpoint", c.BackendURL)
		set("user", c.BackendUser)
		set("password", c.BackendPassword)
		set("root", c.BackendPath)
	case BackendGitHost:
		set("token", c.BackendToken)
		set("owner", c.BackendOwner)
		set("org", c.BackendOrg)
		set("branch", c.BackendBranch)
		set("endpoint", c.BackendURL)
	}

	if c.Backend == BackendS3 || c.Backend == BackendWebDAV || c.Backend == BackendGitHost {
		if c.RateLimit > 0 {
			settings["rateLimit"] = strconv.FormatFloat(c.RateLimit, 'f', -1, 64)
		}
		if c.RateBurst > 0 {
			settings["rateBurst"] = strconv.Itoa(c.RateBurst)
		}
	}
	return settings
}

// ReplicationConfig returns the replicator tuning carried by the CLI
// configuration. Backend, staging and logger are filled in by the caller.
func (c *Config) ReplicationConfig() replication.Config {
	return replication.Config{
		StorePrefix: c.StorePrefix,
		EntryName:   c.EntryName,
		ChunkSize:   c.ChunkSize,
		Debounce:    c.Debounce,
		Workers:     c.Workers,
	}
}

// DisplayConfig formats the configuration with secrets masked.
func DisplayConfig(cfg *Config, format OutputFormat) string {
	masked := *cfg
	masked.BackendKey = maskSecret(cfg.BackendKey)
	masked.BackendSecret = maskSecret(cfg.BackendSecret)
	masked.BackendPassword = maskSecret(cfg.BackendPassword)
	masked.BackendToken = maskSecret(cfg.BackendToken)

	switch format {
	case FormatJSON:
		return formatJSON(&masked)
	case FormatYAML:
		return formatYAML(&masked)
	default:
		return formatConfigText(&masked)
	}
}

func formatConfigText(cfg *Config) string {
	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	line("Backend", cfg.Backend)
	line("Backend Path", cfg.BackendPath)
	line("Backend Bucket", cfg.BackendBucket)
	line("Backend Region", cfg.BackendRegion)
	line("Backend URL", cfg.BackendURL)
	line("Backend User", cfg.BackendUser)
	line("Backend Owner", cfg.BackendOwner)
	line("Backend Org", cfg.BackendOrg)
	line("Backend Branch", cfg.BackendBranch)
	line("Backend Key", cfg.BackendKey)
	line("Backend Secret", cfg.BackendSecret)
	line("Backend Password", cfg.BackendPassword)
	line("Backend Token", cfg.BackendToken)
	line("Staging", cfg.Staging)
	line("Staging Path", cfg.StagingPath)
	line("Store Prefix", cfg.StorePrefix)
	line("Entry Name", cfg.EntryName)
	line("Chunk Size", strconv.Itoa(cfg.ChunkSize))
	line("Debounce", cfg.Debounce.String())
	line("Workers", strconv.Itoa(cfg.Workers))
	line("Output Format", cfg.OutputFormat)
	line("Log File", cfg.LogFile)
	line("Log Level", cfg.LogLevel)
	line("Audit File", cfg.AuditFile)
	return b.String()
}

// maskSecret masks sensitive information, showing only first 4 characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) < 5 {
		return "****"
	}
	return s[:4] + "****"
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}

// ValidateConfig validates the configuration for the given backend.
func ValidateConfig(cfg *Config) error {
	switch cfg.Backend {
	case BackendLocal:
		if cfg.BackendPath == "" {
			return ErrBackendPathRequired
		}
		p, err := expandHome(cfg.BackendPath)
		if err != nil {
			return err
		}
		cfg.BackendPath = p
	case BackendMemory:
	case BackendS3:
		if cfg.BackendBucket == "" {
			return ErrBackendBucketRequired
		}
		if cfg.BackendRegion == "" && cfg.BackendURL == "" {
			return ErrBackendRegionRequired
		}
	case BackendWebDAV:
		if cfg.BackendURL == "" {
			return ErrBackendURLRequired
		}
	case BackendGitHost:
		if cfg.BackendToken == "" {
			return ErrBackendTokenRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
	}

	switch cfg.Staging {
	case "memory":
	case "sqlite", "jsonl":
		if cfg.StagingPath == "" {
			return ErrStagingPathRequired
		}
		p, err := expandHome(cfg.StagingPath)
		if err != nil {
			return err
		}
		cfg.StagingPath = p
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedStaging, cfg.Staging)
	}

	switch OutputFormat(cfg.OutputFormat) {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return ErrUnsupportedOutputFormat
	}

	return nil
}
