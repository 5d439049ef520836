// Package config loads the livedns configuration file.
//
// The file is TOML by default (".gandi.toml") or YAML when its extension is .yaml or .yml:
//
//	provider = "gandi"
//
//	[GANDI]
//	key = "${GANDI_API_KEY}"
//
//	[DNS]
//	domain = "example.com"
//	record = "home"
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"

	"github.com/Travis-Britz/livedns-ddns"
)

// DefaultPath is the file read when no path is given.
const DefaultPath = ".gandi.toml"

// Providers and resolver methods understood by the CLI.
const (
	ProviderGandi      = "gandi"
	ProviderCloudflare = "cloudflare"

	MethodWeb       = "web"
	MethodDNS       = "dns"
	MethodInterface = "interface"
	MethodStatic    = "static"
)

// File is the on-disk configuration.
type File struct {
	Provider   string     `toml:"provider,omitempty" yaml:"provider,omitempty"`
	Gandi      Gandi      `toml:"GANDI" yaml:"GANDI"`
	Cloudflare Cloudflare `toml:"CLOUDFLARE,omitempty" yaml:"CLOUDFLARE,omitempty"`
	DNS        DNS        `toml:"DNS" yaml:"DNS"`
	Resolver   Resolver   `toml:"RESOLVER,omitempty" yaml:"RESOLVER,omitempty"`
	Retry      Retry      `toml:"RETRY,omitempty" yaml:"RETRY,omitempty"`
}

type Gandi struct {
	Key string `toml:"key,omitempty" yaml:"key,omitempty"`
	URL string `toml:"url,omitempty" yaml:"url,omitempty"`
}

type Cloudflare struct {
	Token string `toml:"token,omitempty" yaml:"token,omitempty"`
}

type DNS struct {
	Domain string `toml:"domain" yaml:"domain"`
	Record string `toml:"record,omitempty" yaml:"record,omitempty"`
	// Records is the newline separated list of older configurations.
	// Only a single name is supported.
	Records string `toml:"records,omitempty" yaml:"records,omitempty"`
	TTL     int    `toml:"ttl,omitempty" yaml:"ttl,omitempty"`
	IPv4    *bool  `toml:"ipv4,omitempty" yaml:"ipv4,omitempty"`
	IPv6    *bool  `toml:"ipv6,omitempty" yaml:"ipv6,omitempty"`
}

type Resolver struct {
	Method     string   `toml:"method,omitempty" yaml:"method,omitempty"`
	URLs       []string `toml:"urls,omitempty" yaml:"urls,omitempty"`
	Interfaces []string `toml:"interfaces,omitempty" yaml:"interfaces,omitempty"`
	Addresses  []string `toml:"addresses,omitempty" yaml:"addresses,omitempty"`
}

// Retry overrides fields of ddns.DefaultRetryPolicy. Durations use time.ParseDuration syntax.
type Retry struct {
	MaxAttempts int     `toml:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	BaseDelay   string  `toml:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	Multiplier  float64 `toml:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	MaxDelay    string  `toml:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	MaxElapsed  string  `toml:"max_elapsed,omitempty" yaml:"max_elapsed,omitempty"`
}

// LoadDotEnv loads variables from a .env file into the environment.
// A missing file is not an error; variables already set are not overridden.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads, checks and validates the configuration file at path.
func Load(path string) (*File, error) {
	if err := CheckPermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	f, err := Parse(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a configuration, fills secrets from the environment and validates it.
func Parse(data []byte, asYAML bool) (*File, error) {
	var f File
	if asYAML {
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, err
		}
	} else {
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, err
		}
	}
	f.applyEnv()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (f *File) applyEnv() {
	f.Gandi.Key = strings.TrimSpace(os.ExpandEnv(f.Gandi.Key))
	f.Cloudflare.Token = strings.TrimSpace(os.ExpandEnv(f.Cloudflare.Token))
	if f.Gandi.Key == "" {
		f.Gandi.Key = os.Getenv("GANDI_API_KEY")
	}
	if f.Cloudflare.Token == "" {
		f.Cloudflare.Token = os.Getenv("CLOUDFLARE_API_TOKEN")
	}
	if f.Provider == "" {
		f.Provider = ProviderGandi
	}
	if f.Resolver.Method == "" {
		f.Resolver.Method = MethodWeb
	}
}

// Validate reports the first problem found in f.
func (f *File) Validate() error {
	switch f.Provider {
	case ProviderGandi, ProviderCloudflare:
	default:
		return fmt.Errorf("unknown provider %q", f.Provider)
	}
	if f.Secret() == "" {
		return fmt.Errorf("no API key configured for %s", f.Provider)
	}
	if _, err := f.RecordName(); err != nil {
		return err
	}
	if len(f.Families()) == 0 {
		return errors.New("[DNS] ipv4 and ipv6 cannot both be disabled")
	}
	if f.DNS.TTL < 0 {
		return fmt.Errorf("invalid ttl %d", f.DNS.TTL)
	}
	switch f.Resolver.Method {
	case MethodWeb, MethodDNS, MethodInterface:
	case MethodStatic:
		if len(f.Resolver.Addresses) == 0 {
			return errors.New("resolver method static requires at least one address")
		}
	default:
		return fmt.Errorf("unknown resolver method %q", f.Resolver.Method)
	}
	if _, err := f.RetryPolicy(); err != nil {
		return err
	}
	return f.Core().Validate()
}

// Secret returns the credential of the selected provider.
func (f *File) Secret() string {
	if f.Provider == ProviderCloudflare {
		return f.Cloudflare.Token
	}
	return f.Gandi.Key
}

// RecordName returns the single record to manage, accepting the legacy records list.
func (f *File) RecordName() (string, error) {
	if name := strings.TrimSpace(f.DNS.Record); name != "" {
		return name, nil
	}
	var names []string
	for _, line := range strings.Split(f.DNS.Records, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	switch len(names) {
	case 0:
		return "", errors.New("[DNS] record is required")
	case 1:
		return names[0], nil
	}
	return "", fmt.Errorf("[DNS] records names %d records; only one record per configuration is supported", len(names))
}

// Families returns the enabled address families. Both are enabled unless switched off.
func (f *File) Families() []ddns.Family {
	var families []ddns.Family
	if f.DNS.IPv4 == nil || *f.DNS.IPv4 {
		families = append(families, ddns.IPv4)
	}
	if f.DNS.IPv6 == nil || *f.DNS.IPv6 {
		families = append(families, ddns.IPv6)
	}
	return families
}

// Core returns the reconciler configuration.
func (f *File) Core() ddns.Config {
	name, _ := f.RecordName()
	return ddns.Config{
		APIKey:     f.Secret(),
		Domain:     strings.TrimSpace(f.DNS.Domain),
		RecordName: name,
	}
}

// RetryPolicy returns ddns.DefaultRetryPolicy with the configured overrides applied.
func (f *File) RetryPolicy() (ddns.RetryPolicy, error) {
	p := ddns.DefaultRetryPolicy
	if f.Retry.MaxAttempts != 0 {
		if f.Retry.MaxAttempts < 1 {
			return p, fmt.Errorf("[RETRY] max_attempts must be at least 1; got %d", f.Retry.MaxAttempts)
		}
		p.MaxAttempts = f.Retry.MaxAttempts
	}
	if f.Retry.Multiplier != 0 {
		if f.Retry.Multiplier < 1 {
			return p, fmt.Errorf("[RETRY] multiplier must be at least 1; got %v", f.Retry.Multiplier)
		}
		p.Multiplier = f.Retry.Multiplier
	}
	for _, d := range []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"base_delay", f.Retry.BaseDelay, &p.BaseDelay},
		{"max_delay", f.Retry.MaxDelay, &p.MaxDelay},
		{"max_elapsed", f.Retry.MaxElapsed, &p.MaxElapsed},
	} {
		if d.val == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			return p, fmt.Errorf("[RETRY] %s: %w", d.key, err)
		}
		if v < 0 {
			return p, fmt.Errorf("[RETRY] %s cannot be negative", d.key)
		}
		*d.dst = v
	}
	return p, nil
}

// CheckPermissions requires path to be readable by its owner only.
func CheckPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking config file permissions: %w", err)
	}

	perms := info.Mode().Perm()
	// Error messages will state that we want 0600,
	// but we'll also accept 0400 which is even more restricted.
	// The file might be provided by some secrets managing software as readonly.
	if perms != 0600 && perms != 0400 {
		return fmt.Errorf("invalid permissions for \"%s\": expected file permissions \"-rw-------\"; found \"%s\"", path, fs.FileMode(perms))
	}
	return nil
}

// Write creates a new config file at path with mode 0600. It refuses to overwrite an existing file.
func Write(path string, f *File) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(f)
	} else {
		data, err = toml.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", path, err)
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		return fmt.Errorf("writing \"%s\": %w", path, err)
	}
	return out.Close()
}
