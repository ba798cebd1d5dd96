// Package config loads and validates the edge server configuration.
//
// A config file lists HTTP listeners. Each listener either serves a static
// document root (optionally through a byte LRU cache) or reverse-proxies to a
// set of upstreams. YAML (.yaml, .yml) and JSONC (.json, .jsonc) are accepted.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/IvanBrykalov/edgecache/internal/util"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "config.yaml"

// DefaultCacheMaxFileKiB is the streaming threshold when cache_max_file is unset (100 MiB).
const DefaultCacheMaxFileKiB = 100 * 1024

// Listener modes.
const (
	ModeStatic = "static"
	ModeProxy  = "proxy"
)

var (
	ErrConfigRead      = errors.New("cannot read config file")
	ErrConfigInvalid   = errors.New("invalid config")
	ErrConfigExists    = errors.New("config file already exists")
	ErrNoListeners     = errors.New("at least one http listener is required")
	ErrListenerMode    = errors.New("exactly one of root or proxy must be set")
	ErrListenPort      = errors.New("listen port out of range")
	ErrDuplicateListen = errors.New("duplicate listen port")
	ErrEmptyUpstream   = errors.New("proxy upstream is empty")
	ErrZeroWeight      = errors.New("weights must be positive")
	ErrHealthPath      = errors.New("proxy_health must start with /")
	ErrNegativeSize    = errors.New("cache sizes must not be negative")
	ErrCacheShards     = errors.New("cache_shards out of range")
)

// MaxCacheShards bounds cache_shards; -1 asks the cache to pick a count.
const MaxCacheShards = util.MaxShards

// Config is the whole file.
type Config struct {
	HTTP []Server `json:"http" yaml:"http"`
}

// Server configures one listener.
type Server struct {
	Listen    int    `json:"listen" yaml:"listen"`
	Bind      string `json:"bind,omitempty" yaml:"bind,omitempty"`
	ReusePort bool   `json:"reuse_port,omitempty" yaml:"reuse_port,omitempty"`

	// Static mode.
	Root         string   `json:"root,omitempty" yaml:"root,omitempty"`
	Cache        int      `json:"cache,omitempty" yaml:"cache,omitempty"` // KiB, 0 disables
	CacheTTL     Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty"`
	CacheShards  int      `json:"cache_shards,omitempty" yaml:"cache_shards,omitempty"`
	CacheMaxFile int      `json:"cache_max_file,omitempty" yaml:"cache_max_file,omitempty"` // KiB

	// Proxy mode.
	Proxy       Upstreams `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	ProxyHealth string    `json:"proxy_health,omitempty" yaml:"proxy_health,omitempty"`
	Strategy    string    `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Weights     []int     `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Mode reports whether the listener serves files or proxies.
func (s Server) Mode() string {
	if len(s.Proxy) > 0 {
		return ModeProxy
	}
	return ModeStatic
}

// Addr is the host:port the listener binds to.
func (s Server) Addr() string {
	return net.JoinHostPort(s.Bind, strconv.Itoa(s.Listen))
}

// CacheMaxFileBytes is the size at which files are streamed instead of cached.
func (s Server) CacheMaxFileBytes() int64 {
	kib := s.CacheMaxFile
	if kib <= 0 {
		kib = DefaultCacheMaxFileKiB
	}
	return int64(kib) * 1024
}

// UpstreamWeights returns one weight per upstream: missing weights default
// to 1, surplus weights are dropped.
func (s Server) UpstreamWeights() []int {
	w := make([]int, len(s.Proxy))
	for i := range w {
		w[i] = 1
		if i < len(s.Weights) {
			w[i] = s.Weights[i]
		}
	}
	return w
}

// Load reads, parses and validates the config at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfigRead, err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}
	return cfg, nil
}

// Parse decodes data according to the file extension ext and validates it.
// Unknown fields are rejected in both formats.
func Parse(data []byte, ext string) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		cfg, err = parseJSONC(data)
	default:
		cfg, err = parseYAML(data)
	}
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseYAML(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("invalid YAML: %w", err)
	}
	return cfg, nil
}

func parseJSONC(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return cfg, nil
}

// Validate checks every listener and reports the first problem found.
func (c Config) Validate() error {
	if len(c.HTTP) == 0 {
		return ErrNoListeners
	}
	ports := make(map[int]int, len(c.HTTP))
	for i, s := range c.HTTP {
		if err := s.validate(); err != nil {
			return fmt.Errorf("http[%d]: %w", i, err)
		}
		// Port 0 asks the kernel for a free port, so it may repeat.
		if s.Listen == 0 {
			continue
		}
		if j, dup := ports[s.Listen]; dup {
			return fmt.Errorf("http[%d]: %w %d (also http[%d])", i, ErrDuplicateListen, s.Listen, j)
		}
		ports[s.Listen] = i
	}
	return nil
}

func (s Server) validate() error {
	if s.Listen < 0 || s.Listen > 65535 {
		return fmt.Errorf("%w: %d", ErrListenPort, s.Listen)
	}
	if (s.Root == "") == (len(s.Proxy) == 0) {
		return ErrListenerMode
	}
	if s.Cache < 0 || s.CacheMaxFile < 0 {
		return ErrNegativeSize
	}
	if s.CacheShards < -1 || s.CacheShards > MaxCacheShards {
		return fmt.Errorf("%w: %d (want -1..%d)", ErrCacheShards, s.CacheShards, MaxCacheShards)
	}
	for _, u := range s.Proxy {
		if strings.TrimSpace(u) == "" {
			return ErrEmptyUpstream
		}
	}
	for _, w := range s.Weights {
		if w <= 0 {
			return fmt.Errorf("%w: got %d", ErrZeroWeight, w)
		}
	}
	if s.ProxyHealth != "" && !strings.HasPrefix(s.ProxyHealth, "/") {
		return fmt.Errorf("%w: %q", ErrHealthPath, s.ProxyHealth)
	}
	return nil
}

// Upstreams accepts either a single "host:port" string or a list of them.
type Upstreams []string

func (u *Upstreams) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*u = Upstreams{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return fmt.Errorf("proxy: want string or list of strings: %w", err)
	}
	*u = many
	return nil
}

func (u *Upstreams) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		var one string
		if err := n.Decode(&one); err != nil {
			return err
		}
		*u = Upstreams{one}
		return nil
	}
	var many []string
	if err := n.Decode(&many); err != nil {
		return fmt.Errorf("proxy: want string or list of strings: %w", err)
	}
	*u = many
	return nil
}

// Duration is a time.Duration written as "30s", "5m" and so on.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.set(s)
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(v)
	return nil
}
