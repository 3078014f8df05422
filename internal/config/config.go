// Package config loads and hot-reloads pganonproxy's YAML configuration:
// the listener address, the single upstream, pool sizing, TLS identity,
// client credentials and the column policy map (spec.md §6).
package config

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/pkcs12"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for pganonproxy.
type Config struct {
	Listen      ListenConfig   `yaml:"listen"`
	Upstream    string         `yaml:"connection_uri"`
	MaxPoolSize int            `yaml:"max_pool_size"`
	K           int            `yaml:"k"`
	LDiversity  *LDiversity    `yaml:"l_diversity,omitempty"`
	TLS         *TLSConfig     `yaml:"tls,omitempty"`
	Credentials []Credential   `yaml:"credentials"`
	Columns     []ColumnPolicy `yaml:"columns"`
}

// ListenConfig is the client-facing TCP listener, plus the operator-facing
// HTTP port for /healthz, /metrics and /status.
type ListenConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	APIPort int    `yaml:"api_port"`
}

// TLSConfig names a PKCS#12 identity bundle for the client-facing listener,
// per spec.md §6.
type TLSConfig struct {
	PKCS12Path     string `yaml:"pkcs12_path"`
	PKCS12Password string `yaml:"pkcs12_password"`
}

// Credential is one accepted client username/password pair.
type Credential struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LDiversity configures the optional ℓ-diversity criterion alongside
// k-anonymity.
type LDiversity struct {
	L               int    `yaml:"l"`
	SensitiveColumn string `yaml:"sensitive_column"`
}

// NumericAggregation is the per-column policy for numeric quasi-identifiers.
type NumericAggregation string

const (
	NumericMedian NumericAggregation = "median"
	NumericRange  NumericAggregation = "range"
)

// StringAggregation is the per-column policy for string quasi-identifiers.
type StringAggregation string

const (
	StringJoin      StringAggregation = "join"
	StringSubstring StringAggregation = "substring"
)

// ColumnPolicy describes one entry of the `columns` list: either an
// `identifier` (randomized) or a `pseudo_identifier` (quasi-identifier,
// aggregated per policy). Column is "table.column".
type ColumnPolicy struct {
	Column             string             `yaml:"column"`
	Kind               string             `yaml:"kind"` // "identifier" | "pseudo_identifier"
	NumericAggregation NumericAggregation `yaml:"numeric_aggregation,omitempty"`
	StringAggregation  StringAggregation  `yaml:"string_aggregation,omitempty"`
}

// IsIdentifier reports whether this entry is a direct identifier.
func (c ColumnPolicy) IsIdentifier() bool { return c.Kind == "identifier" }

// IsPseudoIdentifier reports whether this entry is a quasi-identifier.
func (c ColumnPolicy) IsPseudoIdentifier() bool { return c.Kind == "pseudo_identifier" }

// EffectiveNumericAggregation applies the documented default (median).
func (c ColumnPolicy) EffectiveNumericAggregation() NumericAggregation {
	if c.NumericAggregation == "" {
		return NumericMedian
	}
	return c.NumericAggregation
}

// EffectiveStringAggregation applies the documented default (join).
func (c ColumnPolicy) EffectiveStringAggregation() StringAggregation {
	if c.StringAggregation == "" {
		return StringJoin
	}
	return c.StringAggregation
}

// UpstreamAddr parses Upstream ("postgres[ql]://[user[:pw]]@host[:port][/db]")
// into dial components, defaulting the port to 5432.
func (c *Config) UpstreamAddr() (host string, port int, database, user, password string, err error) {
	u, err := url.Parse(c.Upstream)
	if err != nil {
		return "", 0, "", "", "", fmt.Errorf("parsing connection_uri: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return "", 0, "", "", "", fmt.Errorf("connection_uri scheme must be postgres:// or postgresql://, got %q", u.Scheme)
	}
	host = u.Hostname()
	port = 5432
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, "", "", "", fmt.Errorf("invalid port %q: %w", p, err)
		}
	}
	if u.User != nil {
		user = u.User.Username()
		password, _ = u.User.Password()
	}
	if len(u.Path) > 1 {
		database = u.Path[1:]
	}
	return host, port, database, user, password, nil
}

// TLSEnabled reports whether a PKCS#12 identity is configured.
func (c *Config) TLSEnabled() bool { return c.TLS != nil && c.TLS.PKCS12Path != "" }

// FindCredential looks up the configured password for a client username.
func (c *Config) FindCredential(username string) (Credential, bool) {
	for _, cred := range c.Credentials {
		if cred.Username == username {
			return cred, true
		}
	}
	return Credential{}, false
}

// LoadTLSCertificate decodes the configured PKCS#12 identity bundle into a
// tls.Certificate for the client-facing listener.
func (c *Config) LoadTLSCertificate() (tls.Certificate, error) {
	data, err := os.ReadFile(c.TLS.PKCS12Path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("reading pkcs12 bundle: %w", err)
	}
	key, cert, err := pkcs12.Decode(data, c.TLS.PKCS12Password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decoding pkcs12 bundle: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: key, Leaf: cert}, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable
// values, exactly as the teacher's loader does.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.Host == "" {
		cfg.Listen.Host = "0.0.0.0"
	}
	if cfg.Listen.Port == 0 {
		cfg.Listen.Port = 5432
	}
	if cfg.MaxPoolSize == 0 {
		cfg.MaxPoolSize = 10
	}
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 9090
	}
}

func validate(cfg *Config) error {
	if cfg.Upstream == "" {
		return fmt.Errorf("connection_uri is required")
	}
	if _, _, _, _, _, err := cfg.UpstreamAddr(); err != nil {
		return err
	}
	if cfg.MaxPoolSize < 1 {
		return fmt.Errorf("max_pool_size must be >= 1, got %d", cfg.MaxPoolSize)
	}
	if cfg.K < 1 {
		return fmt.Errorf("k must be >= 1, got %d", cfg.K)
	}
	if len(cfg.Credentials) == 0 {
		return fmt.Errorf("at least one credential is required")
	}
	for _, col := range cfg.Columns {
		if !col.IsIdentifier() && !col.IsPseudoIdentifier() {
			return fmt.Errorf("column %q: kind must be identifier or pseudo_identifier, got %q", col.Column, col.Kind)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the
// new config, debounced exactly as the teacher's Watcher does.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
