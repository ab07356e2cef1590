// Package config loads portalcap settings.
//
// Values are layered: DefaultConfig, then an optional YAML file, then a
// dotenv file, then the process environment. Environment keys keep the
// names used by existing deployments (TELEGRAM_TOKEN, CHAT_ID, ...).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvTelegramToken = "TELEGRAM_TOKEN"
	EnvChatID        = "CHAT_ID"
	EnvPortalUser    = "BLACKBOARD_USER"
	EnvPortalPass    = "BLACKBOARD_PASS"
	EnvPortalURL     = "BLACKBOARD_URL"
	EnvChromeBin     = "GOOGLE_CHROME_BIN"
	EnvHTTPAddr      = "PORTALCAP_HTTP_ADDR"
	EnvArtifactDir   = "PORTALCAP_ARTIFACT_DIR"
	EnvASCIIOnly     = "PORTALCAP_ASCII_ONLY"
	EnvTraceFile     = "PORTALCAP_TRACE_FILE"
)

// DefaultPortalBaseURL is used when neither base_url nor a login URL is set.
const DefaultPortalBaseURL = "https://ucv.blackboard.com"

// DefaultEnvFile is read when present; its absence is not an error.
const DefaultEnvFile = ".env"

// Config is the complete runtime configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Portal   PortalConfig   `yaml:"portal"`
	Browser  BrowserConfig  `yaml:"browser"`

	// Targets is the ordered list of pages captured on every run.
	Targets []TargetConfig `yaml:"targets"`

	// ArtifactDir holds screenshots between capture and delivery
	ArtifactDir string `yaml:"artifact_dir"`

	// HTTPAddr enables the status server when non-empty
	HTTPAddr string `yaml:"http_addr"`

	// TraceFile, when set, receives run and page spans as JSON
	TraceFile string `yaml:"trace_file"`
}

// TelegramConfig configures the bot and its single destination chat.
type TelegramConfig struct {
	Token      string `yaml:"token"`
	ChatID     string `yaml:"chat_id"`
	APIBaseURL string `yaml:"api_base_url"`

	// ASCIIOnly drops non-ASCII characters from text and captions
	ASCIIOnly bool `yaml:"ascii_only"`

	// AllowedChatOnly ignores commands from any chat but ChatID
	AllowedChatOnly bool `yaml:"allowed_chat_only"`

	// BotName restricts /start@name commands to this bot
	BotName string `yaml:"bot_name"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
}

// PortalConfig describes the portal login form.
type PortalConfig struct {
	BaseURL  string `yaml:"base_url"`
	LoginURL string `yaml:"login_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	UsernameSelector string `yaml:"username_selector"`
	PasswordSelector string `yaml:"password_selector"`
	SubmitSelector   string `yaml:"submit_selector"`
}

// BrowserConfig configures the headless Chromium instance.
type BrowserConfig struct {
	ExecutablePath string   `yaml:"executable_path"`
	Headless       bool     `yaml:"headless"`
	InstallDriver  bool     `yaml:"install_driver"`
	Args           []string `yaml:"args"`
	ViewportWidth  int      `yaml:"viewport_width"`
	ViewportHeight int      `yaml:"viewport_height"`

	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	ElementTimeout    time.Duration `yaml:"element_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
}

// TargetConfig is one page to capture. URL may be relative to Portal.BaseURL.
type TargetConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	ReadySelector string `yaml:"ready_selector"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() *Config {
	return &Config{
		Telegram: TelegramConfig{
			APIBaseURL:        "https://api.telegram.org",
			RequestTimeout:    60 * time.Second,
			MessagesPerSecond: 1,
			PollTimeout:       30 * time.Second,
		},
		Portal: PortalConfig{
			BaseURL:          DefaultPortalBaseURL,
			UsernameSelector: "#user_id",
			PasswordSelector: "#password",
			SubmitSelector:   "#entry-login",
		},
		Browser: BrowserConfig{
			Headless:          true,
			InstallDriver:     true,
			Args:              []string{"--no-sandbox", "--disable-dev-shm-usage"},
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			NavigationTimeout: 60 * time.Second,
			ReadyTimeout:      20 * time.Second,
			ElementTimeout:    15 * time.Second,
			SettleDelay:       2 * time.Second,
		},
		Targets: []TargetConfig{
			{Name: "ACTIVIDAD_RECIENTE", URL: "/ultra/stream"},
			{Name: "CALENDARIO", URL: "/ultra/calendar"},
			{Name: "CALIFICACIONES", URL: "/ultra/grades"},
		},
		ArtifactDir: os.TempDir(),
	}
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// ConfigFile is an optional YAML file
	ConfigFile string

	// EnvFile is a dotenv file. When empty, DefaultEnvFile is tried.
	EnvFile string

	// Lookup reads the process environment; nil means os.LookupEnv
	Lookup func(string) (string, bool)
}

// Load builds a validated Config from all sources.
//
// When base_url is not set anywhere, it defaults to the scheme and host of
// the login URL so targets are captured on the same portal that was logged
// into.
func Load(opts LoadOptions) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Portal.BaseURL = ""

	if opts.ConfigFile != "" {
		if err := cfg.LoadFile(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	dotenv, err := readEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if err := cfg.ApplyEnv(func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	if cfg.Portal.BaseURL == "" {
		cfg.Portal.BaseURL = originOf(cfg.Portal.LoginURL)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// originOf returns scheme://host of raw, or DefaultPortalBaseURL when raw is
// empty or not absolute.
func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return DefaultPortalBaseURL
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host}).String()
}

func readEnvFile(path string) (map[string]string, error) {
	required := path != ""
	if !required {
		path = DefaultEnvFile
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}
	return values, nil
}

// LoadFile overlays a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// ApplyEnv overlays environment values onto c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvTelegramToken, &c.Telegram.Token)
	set(EnvChatID, &c.Telegram.ChatID)
	set(EnvPortalUser, &c.Portal.Username)
	set(EnvPortalPass, &c.Portal.Password)
	set(EnvPortalURL, &c.Portal.LoginURL)
	set(EnvChromeBin, &c.Browser.ExecutablePath)
	set(EnvHTTPAddr, &c.HTTPAddr)
	set(EnvArtifactDir, &c.ArtifactDir)
	set(EnvTraceFile, &c.TraceFile)

	if v, ok := lookup(EnvASCIIOnly); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", EnvASCIIOnly, err)
		}
		c.Telegram.ASCIIOnly = enabled
	}
	return nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required (%s)", EnvTelegramToken)
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("chat ID is required (%s)", EnvChatID)
	}
	if c.Portal.Username == "" || c.Portal.Password == "" {
		return fmt.Errorf("portal credentials are required (%s, %s)", EnvPortalUser, EnvPortalPass)
	}
	if c.Portal.LoginURL == "" && c.Portal.BaseURL == "" {
		return fmt.Errorf("portal login URL is required (%s)", EnvPortalURL)
	}
	if c.Portal.UsernameSelector == "" || c.Portal.PasswordSelector == "" || c.Portal.SubmitSelector == "" {
		return fmt.Errorf("login selectors cannot be empty")
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one page target is required")
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, target := range c.Targets {
		if strings.TrimSpace(target.Name) == "" {
			return fmt.Errorf("target %d: name is required", i)
		}
		if target.URL == "" {
			return fmt.Errorf("target %q: url is required", target.Name)
		}
		if seen[target.Name] {
			return fmt.Errorf("target %q: duplicate name", target.Name)
		}
		seen[target.Name] = true
	}

	if c.Browser.ViewportWidth < 100 || c.Browser.ViewportWidth > 5000 {
		return fmt.Errorf("viewport width must be between 100 and 5000 pixels")
	}
	if c.Browser.ViewportHeight < 100 || c.Browser.ViewportHeight > 5000 {
		return fmt.Errorf("viewport height must be between 100 and 5000 pixels")
	}
	if c.Browser.NavigationTimeout <= 0 || c.Browser.ReadyTimeout <= 0 || c.Browser.ElementTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be positive")
	}
	if c.Browser.SettleDelay < 0 {
		return fmt.Errorf("settle_delay cannot be negative")
	}
	if c.Telegram.PollTimeout <= 0 {
		return fmt.Errorf("poll_timeout must be positive")
	}
	if c.Telegram.RequestTimeout > 0 && c.Telegram.PollTimeout >= c.Telegram.RequestTimeout {
		return fmt.Errorf("poll_timeout (%s) must be shorter than request_timeout (%s)",
			c.Telegram.PollTimeout, c.Telegram.RequestTimeout)
	}
	if c.Telegram.MessagesPerSecond <= 0 {
		return fmt.Errorf("messages_per_second must be positive")
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("artifact directory is required")
	}
	return nil
}

// ResolvedLoginURL returns the login page, falling back to the base URL.
func (c *Config) ResolvedLoginURL() string {
	if c.Portal.LoginURL != "" {
		return c.Portal.LoginURL
	}
	return c.Portal.BaseURL
}

// ResolvedTargets returns Targets with relative URLs joined to the base URL,
// preserving order.
func (c *Config) ResolvedTargets() ([]TargetConfig, error) {
	base, err := url.Parse(c.Portal.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal base URL: %w", err)
	}

	resolved := make([]TargetConfig, 0, len(c.Targets))
	for _, target := range c.Targets {
		ref, err := url.Parse(target.URL)
		if err != nil {
			return nil, fmt.Errorf("target %q: invalid url: %w", target.Name, err)
		}
		if !ref.IsAbs() {
			if !base.IsAbs() {
				return nil, fmt.Errorf("target %q: relative url needs an absolute portal base URL", target.Name)
			}
			ref = base.ResolveReference(ref)
		}
		target.URL = ref.String()
		resolved = append(resolved, target)
	}
	return resolved, nil
}
