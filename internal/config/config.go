// Package config provides YAML-based configuration loading for Postyard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Post delay units.
const (
	UnitSeconds = "seconds"
	UnitHours   = "hours"
)

// History drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the top-level Postyard configuration, loaded from postyard.yaml.
// A loaded Config is treated as immutable for the lifetime of a run.
type Config struct {
	Account     AccountConfig   `yaml:"account"`
	Platform    string          `yaml:"platform"`
	SessionFile string          `yaml:"session_file"`
	Posts       PostsConfig     `yaml:"posts"`
	Delays      DelayConfig     `yaml:"delays"`
	Proxies     []string        `yaml:"proxies"`
	LogDir      string          `yaml:"log_dir"`
	History     HistoryConfig   `yaml:"history"`
	Notify      NotifyConfig    `yaml:"notify"`
	Dashboard   DashboardConfig `yaml:"dashboard"`
	Schedule    string          `yaml:"schedule"`
}

// AccountConfig holds the credentials of the single account a run posts to.
type AccountConfig struct {
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
}

// PostsConfig locates the input file and image directory.
type PostsConfig struct {
	CSVPath           string `yaml:"csv_path"`
	ImagesDir         string `yaml:"images_dir"`
	HashtagsInComment bool   `yaml:"hashtags_in_comment"`
	RepostExisting    bool   `yaml:"repost_existing"`
}

// DelayConfig holds the randomized delay ranges. API delays are seconds;
// post delays are expressed in PostUnit.
type DelayConfig struct {
	APIMin    int    `yaml:"api_min"`
	APIMax    int    `yaml:"api_max"`
	PostMin   int    `yaml:"post_min"`
	PostMax   int    `yaml:"post_max"`
	PostUnit  string `yaml:"post_unit"`
	SettleSec *int   `yaml:"settle_sec"`
}

// HistoryConfig selects the optional run history store. An empty driver
// disables history.
type HistoryConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// NotifyConfig configures chat notifications for run events.
type NotifyConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
	Levels  []string   `yaml:"levels"`
}

// ChatConfig holds bot credentials for a chat platform.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChatConfig) Enabled() bool {
	return c.BotToken != "" && c.ChannelID != ""
}

// DashboardConfig configures the HTTP control surface.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Platform == "" {
		c.Platform = "dryrun"
	}
	if c.Account.Password == "" && c.Account.PasswordEnv != "" {
		c.Account.Password = os.Getenv(c.Account.PasswordEnv)
	}
	if c.SessionFile == "" && c.Account.Username != "" {
		c.SessionFile = filepath.Join("sessions", c.Account.Username+".session.json")
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.Delays.APIMin == 0 && c.Delays.APIMax == 0 {
		c.Delays.APIMin, c.Delays.APIMax = 1, 3
	}
	if c.Delays.PostMin == 0 && c.Delays.PostMax == 0 {
		c.Delays.PostMin, c.Delays.PostMax = 60, 300
	}
	if c.Delays.PostUnit == "" {
		c.Delays.PostUnit = UnitSeconds
	}
	if c.Delays.SettleSec == nil {
		settle := 60
		c.Delays.SettleSec = &settle
	}
	switch c.History.Driver {
	case DriverSQLite:
		if c.History.Path == "" {
			c.History.Path = "postyard.db"
		}
	case DriverMySQL:
		if c.History.Host == "" {
			c.History.Host = "127.0.0.1"
		}
		if c.History.Port == 0 {
			c.History.Port = 3306
		}
		if c.History.User == "" {
			c.History.User = "root"
		}
		if c.History.Database == "" && c.Account.Username != "" {
			c.History.Database = "postyard_" + c.Account.Username
		}
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if len(c.Notify.Levels) == 0 {
		c.Notify.Levels = []string{"warning", "error"}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Account.Username == "" {
		errs = append(errs, "account.username is required")
	}
	if c.Account.Password == "" {
		errs = append(errs, "account.password (or account.password_env) is required")
	}
	if c.Posts.CSVPath == "" {
		errs = append(errs, "posts.csv_path is required")
	}
	if c.Posts.ImagesDir == "" {
		errs = append(errs, "posts.images_dir is required")
	}
	errs = append(errs, checkRange("delays.api", c.Delays.APIMin, c.Delays.APIMax)...)
	errs = append(errs, checkRange("delays.post", c.Delays.PostMin, c.Delays.PostMax)...)
	if c.Delays.PostUnit != UnitSeconds && c.Delays.PostUnit != UnitHours {
		errs = append(errs, fmt.Sprintf("delays.post_unit must be %q or %q, got %q", UnitSeconds, UnitHours, c.Delays.PostUnit))
	}
	if c.Delays.SettleSec != nil && *c.Delays.SettleSec < 0 {
		errs = append(errs, "delays.settle_sec must not be negative")
	}
	switch c.History.Driver {
	case "", DriverSQLite:
	case DriverMySQL:
		if c.History.Database == "" {
			errs = append(errs, "history.database is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("history.driver must be %q or %q, got %q", DriverSQLite, DriverMySQL, c.History.Driver))
	}
	for i, p := range c.Proxies {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Sprintf("proxies[%d] is empty", i))
		}
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("schedule %q: %v", c.Schedule, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func checkRange(name string, min, max int) []string {
	var errs []string
	if min < 0 || max < 0 {
		errs = append(errs, fmt.Sprintf("%s delays must not be negative", name))
	}
	if min > max {
		errs = append(errs, fmt.Sprintf("%s_min (%d) must not exceed %s_max (%d)", name, min, name, max))
	}
	return errs
}

// PostUnitDuration returns the length of one post delay unit.
func (c *Config) PostUnitDuration() time.Duration {
	if c.Delays.PostUnit == UnitHours {
		return time.Hour
	}
	return time.Second
}

// SettleDelay returns the post-login pause before posting begins.
func (c *Config) SettleDelay() time.Duration {
	if c.Delays.SettleSec == nil {
		return 0
	}
	return time.Duration(*c.Delays.SettleSec) * time.Second
}

// Template is a commented starter config written by `postyard init`.
const Template = `# Postyard configuration
account:
  username: your_username
  password_env: POSTYARD_PASSWORD

platform: dryrun
# session_file: sessions/your_username.session.json

posts:
  csv_path: posts.csv
  images_dir: images
  hashtags_in_comment: true
  repost_existing: false

delays:
  api_min: 1
  api_max: 3
  post_min: 60
  post_max: 300
  post_unit: seconds   # seconds | hours
  settle_sec: 60

proxies: []
log_dir: logs

history:
  driver: sqlite
  path: postyard.db

# notify:
#   slack:
#     bot_token: xoxb-...
#     channel_id: C0123456
#   discord:
#     bot_token: ...
#     channel_id: "123456789"

dashboard:
  port: 8080

# schedule: "0 9 * * *"
`
