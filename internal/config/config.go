package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"calboard/internal/credential"
	"calboard/internal/model"
)

// Source types.
const (
	SourceGoogle = "google"
	SourceICS    = "ics"
)

// ICSConfig describes a single ICS subscription feed.
type ICSConfig struct {
	// ID is an internal identifier used for de-dup and logging.
	ID   string `yaml:"id" json:"id"`
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name" json:"name"`
	// ColorID is a provider color id ("1".."11") applied to every event of the feed.
	ColorID string `yaml:"color_id,omitempty" json:"color_id,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ScheduleConfig holds cron specs. An empty spec disables that job.
type ScheduleConfig struct {
	CredentialCheck string `yaml:"credential_check" json:"credential_check"`
	Refresh         string `yaml:"refresh" json:"refresh"`
	Rotate          string `yaml:"rotate" json:"rotate"`
}

// CredentialConfig tunes the daily automatic acquisition window.
// TargetHour and TargetMinute are pointers so an explicit 0 (midnight) is
// told apart from an omitted key.
type CredentialConfig struct {
	TargetHour        *int `yaml:"target_hour" json:"target_hour"`
	TargetMinute      *int `yaml:"target_minute" json:"target_minute"`
	ToleranceMinutes  int  `yaml:"tolerance_minutes" json:"tolerance_minutes"`
	WarnMinutes       int  `yaml:"warn_minutes" json:"warn_minutes"`
	DefaultTTLSeconds int  `yaml:"default_ttl_seconds" json:"default_ttl_seconds"`
}

// SourceConfig selects where events come from.
type SourceConfig struct {
	// Type is "google" (default) or "ics".
	Type        string      `yaml:"type" json:"type"`
	CalendarID  string      `yaml:"calendar_id" json:"calendar_id"`
	MaxResults  int         `yaml:"max_results" json:"max_results"`
	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`
}

// OAuthConfig holds the OAuth2 client used for Google access.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" json:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"-"`
	Scopes       []string `yaml:"scopes" json:"scopes"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone every date is computed in (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// StatePath is the SQLite file holding the credential and view mode.
	StatePath string `yaml:"state_path" json:"state_path"`

	Schedule   ScheduleConfig   `yaml:"schedule" json:"schedule"`
	Credential CredentialConfig `yaml:"credential" json:"credential"`
	Source     SourceConfig     `yaml:"source" json:"source"`
	OAuth      OAuthConfig      `yaml:"oauth" json:"oauth"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	switch c.WeekStart = strings.ToLower(c.WeekStart); c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "sunday"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.StatePath == "" {
		c.StatePath = "/var/lib/calboard/state.db"
	}

	if c.Schedule.CredentialCheck == "" {
		c.Schedule.CredentialCheck = "@every 1m"
	}
	if c.Schedule.Refresh == "" {
		c.Schedule.Refresh = "0 */3 * * *"
	}

	cc := &c.Credential
	if cc.TargetHour == nil || *cc.TargetHour < 0 || *cc.TargetHour > 23 {
		cc.TargetHour = intPtr(6)
	}
	if cc.TargetMinute == nil || *cc.TargetMinute < 0 || *cc.TargetMinute > 59 {
		cc.TargetMinute = intPtr(0)
	}
	if cc.ToleranceMinutes <= 0 {
		cc.ToleranceMinutes = 5
	}
	if cc.WarnMinutes <= 0 {
		cc.WarnMinutes = 5
	}
	if cc.DefaultTTLSeconds <= 0 {
		cc.DefaultTTLSeconds = 3600
	}

	switch c.Source.Type = strings.ToLower(c.Source.Type); c.Source.Type {
	case SourceGoogle, SourceICS:
	default:
		c.Source.Type = SourceGoogle
	}
	if c.Source.CalendarID == "" {
		c.Source.CalendarID = "primary"
	}
	if c.Source.MaxResults <= 0 {
		c.Source.MaxResults = 250
	}
	if c.Source.ICS == nil {
		c.Source.ICS = []ICSConfig{}
	}
	if c.Source.ICSCacheDir == "" {
		c.Source.ICSCacheDir = "/var/lib/calboard/ics-cache"
	}

	if len(c.OAuth.Scopes) == 0 {
		c.OAuth.Scopes = []string{credential.CalendarReadonlyScope}
	}
}

func intPtr(v int) *int { return &v }

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Source.Type == SourceICS && len(c.Source.ICS) == 0 {
		errs = append(errs, errors.New("source.type is ics but source.ics is empty"))
	}
	for i, f := range c.Source.ICS {
		if f.URL == "" {
			errs = append(errs, fmt.Errorf("source.ics[%d]: url is empty", i))
		}
	}
	return errors.Join(errs...)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WeekStartDay maps WeekStart onto a time.Weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "monday" {
		return time.Monday
	}
	return time.Sunday
}

// Policy builds the credential policy for loc.
func (c *Config) Policy(loc *time.Location) credential.Policy {
	p := credential.DefaultPolicy(loc)
	if c.Credential.TargetHour != nil {
		p.TargetHour = *c.Credential.TargetHour
	}
	if c.Credential.TargetMinute != nil {
		p.TargetMinute = *c.Credential.TargetMinute
	}
	p.Tolerance = time.Duration(c.Credential.ToleranceMinutes) * time.Minute
	p.WarnBefore = time.Duration(c.Credential.WarnMinutes) * time.Minute
	p.DefaultTTL = time.Duration(c.Credential.DefaultTTLSeconds) * time.Second
	return p
}

// FeedID returns the identifier of an ICS feed, falling back to its name or URL.
func (f ICSConfig) FeedID() string {
	switch {
	case f.ID != "":
		return f.ID
	case f.Name != "":
		return f.Name
	default:
		return f.URL
	}
}

// Color maps ColorID onto a ColorTag.
func (f ICSConfig) Color() model.ColorTag {
	return model.ColorFromID(f.ColorID)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calboard-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
