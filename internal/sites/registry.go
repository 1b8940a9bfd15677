// Package sites holds the fixed registry of jail-roster sources and the
// parameters used to crawl each of them.
package sites

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Keys understood by NewRegistry and Get. They match the per-source keys used
// in configuration files.
const (
	KeyName           = "name"
	KeyBaseURL        = "site"
	KeyQueryEndpoint  = "query_endpoint"
	KeyDetailEndpoint = "booking_endpoint"
	KeyResultsKey     = "results_key"
	KeyRecordKey      = "key"
	KeyIdentifier     = "booking_key"
	KeyPageSize       = "page_size"
	KeyMethod         = "method"
	KeyLimitParam     = "limit_param"
	KeyOffsetParam    = "offset_param"
	KeyTotalKey       = "total_key"
	KeyFilter         = "filter"
)

// Defaults applied when a source does not override a key.
const (
	DefaultQueryEndpoint  = "/dmxConnect/api/Booking/Read2.php"
	DefaultDetailEndpoint = "/dmxConnect/api/Booking/getbookie.php"
	DefaultResultsKey     = "query"
	DefaultRecordKey      = "bookie"
	DefaultIdentifier     = "BookingID"
	DefaultPageSize       = 100
	DefaultMethod         = http.MethodGet
	DefaultLimitParam     = "limit"
	DefaultOffsetParam    = "offset"
	DefaultTotalKey       = "total"
)

// Entry is the raw, untyped parameter set for one source.
type Entry map[string]any

// SiteConfig is the resolved crawl configuration for one source.
type SiteConfig struct {
	Name            string
	BaseURL         string
	QueryEndpoint   string
	DetailEndpoint  string
	ResultsKey      string
	RecordKey       string
	IdentifierField string
	PageSize        int
	Method          string
	LimitParam      string
	OffsetParam     string
	TotalKey        string
	Filter          string
}

// QueryURL joins the base URL and the query endpoint.
func (c SiteConfig) QueryURL() string {
	return joinURL(c.BaseURL, c.QueryEndpoint)
}

// DetailURL joins the base URL and the detail endpoint.
func (c SiteConfig) DetailURL() string {
	return joinURL(c.BaseURL, c.DetailEndpoint)
}

// Validate enforces the invariants every source must satisfy.
func (c SiteConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("site name must be set")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("site %s: %s must be set", c.Name, KeyBaseURL)
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("site %s: invalid %s: %w", c.Name, KeyBaseURL, err)
	}
	if c.IdentifierField == "" {
		return fmt.Errorf("site %s: %s must not be empty", c.Name, KeyIdentifier)
	}
	if c.ResultsKey == "" {
		return fmt.Errorf("site %s: %s must not be empty", c.Name, KeyResultsKey)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("site %s: %s must be > 0", c.Name, KeyPageSize)
	}
	switch c.Method {
	case http.MethodGet, http.MethodPost:
	default:
		return fmt.Errorf("site %s: unsupported %s %q", c.Name, KeyMethod, c.Method)
	}
	return nil
}

// UnknownSourceError is returned when a source is not in the registry.
type UnknownSourceError struct {
	Source string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("unknown source %q", e.Source)
}

// Registry is an immutable lookup table of sources. It is safe for concurrent
// use once constructed.
type Registry struct {
	sites   map[string]SiteConfig
	entries map[string]Entry
	folded  map[string]string
	names   []string
}

// NewRegistry resolves and validates every entry.
func NewRegistry(entries map[string]Entry) (*Registry, error) {
	r := &Registry{
		sites:   make(map[string]SiteConfig, len(entries)),
		entries: make(map[string]Entry, len(entries)),
		folded:  make(map[string]string, len(entries)),
		names:   make([]string, 0, len(entries)),
	}
	for id, entry := range entries {
		cfg, err := resolve(id, entry)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		folded := strings.ToLower(cfg.Name)
		if prev, ok := r.folded[folded]; ok {
			return nil, fmt.Errorf("duplicate source %q (already registered as %q)", cfg.Name, prev)
		}
		cp := make(Entry, len(entry))
		for k, v := range entry {
			cp[strings.ToLower(k)] = v
		}
		r.sites[cfg.Name] = cfg
		r.entries[cfg.Name] = cp
		r.folded[folded] = cfg.Name
		r.names = append(r.names, cfg.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the resolved configuration for source. Names match
// case-insensitively because configuration loaders fold map keys.
func (r *Registry) Lookup(source string) (SiteConfig, error) {
	name, ok := r.canonical(source)
	if !ok {
		return SiteConfig{}, &UnknownSourceError{Source: source}
	}
	return r.sites[name], nil
}

// Get returns the raw per-source override for key, or def when the source does
// not set it.
func (r *Registry) Get(source, key string, def any) (any, error) {
	name, ok := r.canonical(source)
	if !ok {
		return nil, &UnknownSourceError{Source: source}
	}
	if v, ok := r.entries[name][strings.ToLower(key)]; ok {
		return v, nil
	}
	return def, nil
}

// Sources lists the registered source names in sorted order.
func (r *Registry) Sources() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

func (r *Registry) canonical(source string) (string, bool) {
	if _, ok := r.sites[source]; ok {
		return source, true
	}
	name, ok := r.folded[strings.ToLower(strings.TrimSpace(source))]
	return name, ok
}

func resolve(id string, entry Entry) (SiteConfig, error) {
	get := func(key string) (any, bool) {
		for k, v := range entry {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
		return nil, false
	}
	str := func(key, def string) (string, error) {
		v, ok := get(key)
		if !ok || v == nil {
			return def, nil
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return "", fmt.Errorf("site %s: %s: %w", id, key, err)
		}
		return strings.TrimSpace(s), nil
	}

	var (
		cfg SiteConfig
		err error
	)
	if cfg.Name, err = str(KeyName, id); err != nil {
		return SiteConfig{}, err
	}
	if cfg.BaseURL, err = str(KeyBaseURL, ""); err != nil {
		return SiteConfig{}, err
	}
	if cfg.QueryEndpoint, err = str(KeyQueryEndpoint, DefaultQueryEndpoint); err != nil {
		return SiteConfig{}, err
	}
	if cfg.DetailEndpoint, err = str(KeyDetailEndpoint, DefaultDetailEndpoint); err != nil {
		return SiteConfig{}, err
	}
	if cfg.ResultsKey, err = str(KeyResultsKey, DefaultResultsKey); err != nil {
		return SiteConfig{}, err
	}
	if cfg.RecordKey, err = str(KeyRecordKey, DefaultRecordKey); err != nil {
		return SiteConfig{}, err
	}
	if cfg.IdentifierField, err = str(KeyIdentifier, DefaultIdentifier); err != nil {
		return SiteConfig{}, err
	}
	if cfg.Method, err = str(KeyMethod, DefaultMethod); err != nil {
		return SiteConfig{}, err
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.LimitParam, err = str(KeyLimitParam, DefaultLimitParam); err != nil {
		return SiteConfig{}, err
	}
	if cfg.OffsetParam, err = str(KeyOffsetParam, DefaultOffsetParam); err != nil {
		return SiteConfig{}, err
	}
	if cfg.TotalKey, err = str(KeyTotalKey, DefaultTotalKey); err != nil {
		return SiteConfig{}, err
	}
	if cfg.Filter, err = str(KeyFilter, ""); err != nil {
		return SiteConfig{}, err
	}

	cfg.PageSize = DefaultPageSize
	if v, ok := get(KeyPageSize); ok && v != nil {
		size, err := cast.ToIntE(v)
		if err != nil {
			return SiteConfig{}, fmt.Errorf("site %s: %s: %w", id, KeyPageSize, err)
		}
		cfg.PageSize = size
	}
	return cfg, nil
}

func joinURL(base, path string) string {
	if path == "" {
		return strings.TrimRight(base, "/")
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
