// File: internal/config/config.go
package config

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Flow() FlowConfig
	Watcher() WatcherConfig
	Profile() ProfileConfig
	Account() AccountConfig

	// Setters for values that command-line flags override.
	SetAccount(AccountConfig)
	SetProfilePrefix(string)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
// Fields are exported for viper.Unmarshal; callers go through the Interface getters.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	FlowCfg    FlowConfig    `mapstructure:"flow" yaml:"flow"`
	WatcherCfg WatcherConfig `mapstructure:"watcher" yaml:"watcher"`
	ProfileCfg ProfileConfig `mapstructure:"profile" yaml:"profile"`
	// AccountCfg is populated from env vars and flags, never written back to disk.
	AccountCfg AccountConfig `mapstructure:"account" yaml:"-"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Flow() FlowConfig       { return c.FlowCfg }
func (c *Config) Watcher() WatcherConfig { return c.WatcherCfg }
func (c *Config) Profile() ProfileConfig { return c.ProfileCfg }
func (c *Config) Account() AccountConfig { return c.AccountCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetAccount(a AccountConfig) { c.AccountCfg = a }
func (c *Config) SetProfilePrefix(p string)  { c.ProfileCfg.Prefix = p }
func (c *Config) SetBrowserHeadless(b bool)  { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser process and its session.
type BrowserConfig struct {
	// ExecutablePath is trusted when it exists; otherwise the launcher probes known locations.
	ExecutablePath string        `mapstructure:"edge_executable_path" yaml:"edge_executable_path"`
	FallbackPaths  []string      `mapstructure:"fallback_paths" yaml:"fallback_paths"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	InPrivate      bool          `mapstructure:"inprivate" yaml:"inprivate"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout  time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// ActionRate caps UI actions per second across everything sharing the session.
	ActionRate    float64       `mapstructure:"action_rate" yaml:"action_rate"`
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// FlowConfig tunes the login state machine.
type FlowConfig struct {
	EntryURL           string               `mapstructure:"entry_url" yaml:"entry_url"`
	PollInterval       time.Duration        `mapstructure:"poll_interval" yaml:"poll_interval"`
	PromoModal         PromoModalConfig     `mapstructure:"promo_modal" yaml:"promo_modal"`
	LoginButtonTimeout time.Duration        `mapstructure:"login_button_timeout" yaml:"login_button_timeout"`
	AnotherAccount     AnotherAccountConfig `mapstructure:"another_account" yaml:"another_account"`
	IdentityTimeout    time.Duration        `mapstructure:"identity_timeout" yaml:"identity_timeout"`
	SecretTimeout      time.Duration        `mapstructure:"secret_timeout" yaml:"secret_timeout"`
	Checkpoint         CheckpointConfig     `mapstructure:"checkpoint" yaml:"checkpoint"`
	StaySignedIn       StaySignedInConfig   `mapstructure:"stay_signed_in" yaml:"stay_signed_in"`
	// SettleDelay is the fixed pause after clicks that have no observable completion signal.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// ObserveDelay keeps the window open after the profile step so the operator can see the result.
	ObserveDelay time.Duration `mapstructure:"observe_delay" yaml:"observe_delay"`
}

// PromoModalConfig configures the initial promotional modal dismissal.
type PromoModalConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AnotherAccountConfig configures the optional "use another account" picker.
type AnotherAccountConfig struct {
	Enabled bool          `mapstructure:"enabled" yaml:"enabled"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// CheckpointConfig configures the security-checkpoint skip loop.
type CheckpointConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MaxSkips of 0 leaves the loop unbounded.
	MaxSkips int `mapstructure:"max_skips" yaml:"max_skips"`
}

// StaySignedInConfig configures the "stay signed in" prompt handling.
type StaySignedInConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PromptText string        `mapstructure:"prompt_text" yaml:"prompt_text"`
}

// WatcherConfig configures the background modal watcher.
type WatcherConfig struct {
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout" yaml:"per_attempt_timeout"`
	OverallTimeout    time.Duration `mapstructure:"overall_timeout" yaml:"overall_timeout"`
	TargetClicks      int           `mapstructure:"target_clicks" yaml:"target_clicks"`
	Backoff           time.Duration `mapstructure:"backoff" yaml:"backoff"`
}

// ProfileConfig configures the profile name randomizer.
type ProfileConfig struct {
	NameLength   int           `mapstructure:"name_length" yaml:"name_length"`
	Prefix       string        `mapstructure:"prefix" yaml:"prefix"`
	FieldTimeout time.Duration `mapstructure:"field_timeout" yaml:"field_timeout"`
	SubmitSettle time.Duration `mapstructure:"submit_settle" yaml:"submit_settle"`
}

// AccountConfig holds the credentials for the run.
type AccountConfig struct {
	Email    string `mapstructure:"email" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// DefaultEntryURL is the profile edit page the flow starts from.
const DefaultEntryURL = "https://www.minecraft.net/zh-hans/msaprofile/mygames/editprofile"

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autosetname")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.edge_executable_path", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.inprivate", true)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.action_rate", 20.0)
	v.SetDefault("browser.action_timeout", "10s")

	// -- Flow --
	v.SetDefault("flow.entry_url", DefaultEntryURL)
	v.SetDefault("flow.poll_interval", "100ms")
	v.SetDefault("flow.promo_modal.max_attempts", 20)
	v.SetDefault("flow.promo_modal.timeout", "30s")
	v.SetDefault("flow.login_button_timeout", "10s")
	v.SetDefault("flow.another_account.enabled", false)
	v.SetDefault("flow.another_account.timeout", "10s")
	v.SetDefault("flow.identity_timeout", "10s")
	v.SetDefault("flow.secret_timeout", "10s")
	v.SetDefault("flow.checkpoint.timeout", "5s")
	v.SetDefault("flow.checkpoint.max_skips", 0)
	v.SetDefault("flow.stay_signed_in.timeout", "5s")
	v.SetDefault("flow.stay_signed_in.prompt_text", "保持登录状态?")
	v.SetDefault("flow.settle_delay", "500ms")
	v.SetDefault("flow.observe_delay", "5s")

	// -- Watcher --
	v.SetDefault("watcher.per_attempt_timeout", "2s")
	v.SetDefault("watcher.overall_timeout", "30s")
	v.SetDefault("watcher.target_clicks", 3)
	v.SetDefault("watcher.backoff", "100ms")

	// -- Profile --
	v.SetDefault("profile.name_length", 12)
	v.SetDefault("profile.prefix", "")
	v.SetDefault("profile.field_timeout", "5s")
	v.SetDefault("profile.submit_settle", "500ms")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("account.email", "AUTOSETNAME_ACCOUNT_EMAIL")
	_ = v.BindEnv("account.password", "AUTOSETNAME_ACCOUNT_PASSWORD")

	// The original Settings.json kept the executable path at the top level.
	if legacy := v.GetString("edge_executable_path"); legacy != "" && v.GetString("browser.edge_executable_path") == "" {
		v.Set("browser.edge_executable_path", legacy)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.BrowserCfg.ExecutablePath != "" {
		expanded, err := homedir.Expand(cfg.BrowserCfg.ExecutablePath)
		if err != nil {
			return nil, fmt.Errorf("could not resolve browser.edge_executable_path '%s': %w", cfg.BrowserCfg.ExecutablePath, err)
		}
		cfg.BrowserCfg.ExecutablePath = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	if c.BrowserCfg.ActionRate <= 0 {
		return fmt.Errorf("browser.action_rate must be positive")
	}
	if c.BrowserCfg.ActionTimeout <= 0 {
		return fmt.Errorf("browser.action_timeout must be a positive duration")
	}
	if err := c.FlowCfg.Validate(); err != nil {
		return fmt.Errorf("flow configuration invalid: %w", err)
	}
	if err := c.WatcherCfg.Validate(); err != nil {
		return fmt.Errorf("watcher configuration invalid: %w", err)
	}
	if err := c.ProfileCfg.Validate(); err != nil {
		return fmt.Errorf("profile configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the FlowConfig settings.
func (f *FlowConfig) Validate() error {
	if f.EntryURL == "" {
		return fmt.Errorf("entry_url is required")
	}
	if f.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if f.PromoModal.MaxAttempts < 0 {
		return fmt.Errorf("promo_modal.max_attempts must not be negative")
	}
	if f.Checkpoint.MaxSkips < 0 {
		return fmt.Errorf("checkpoint.max_skips must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"promo_modal.timeout":    f.PromoModal.Timeout,
		"login_button_timeout":   f.LoginButtonTimeout,
		"identity_timeout":       f.IdentityTimeout,
		"secret_timeout":         f.SecretTimeout,
		"checkpoint.timeout":     f.Checkpoint.Timeout,
		"stay_signed_in.timeout": f.StaySignedIn.Timeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	if f.AnotherAccount.Enabled && f.AnotherAccount.Timeout <= 0 {
		return fmt.Errorf("another_account.timeout must be a positive duration")
	}
	if f.SettleDelay < 0 || f.ObserveDelay < 0 {
		return fmt.Errorf("settle_delay and observe_delay must not be negative")
	}
	return nil
}

// Validate checks the WatcherConfig settings.
func (w *WatcherConfig) Validate() error {
	if w.TargetClicks < 1 {
		return fmt.Errorf("target_clicks must be at least 1")
	}
	if w.PerAttemptTimeout <= 0 || w.OverallTimeout <= 0 {
		return fmt.Errorf("per_attempt_timeout and overall_timeout must be positive durations")
	}
	if w.Backoff < 0 {
		return fmt.Errorf("backoff must not be negative")
	}
	return nil
}

// Validate checks the ProfileConfig settings.
func (p *ProfileConfig) Validate() error {
	if p.NameLength < 1 {
		return fmt.Errorf("name_length must be at least 1")
	}
	if utf8.RuneCountInString(p.Prefix) > p.NameLength {
		return fmt.Errorf("prefix %q is longer than name_length %d", p.Prefix, p.NameLength)
	}
	if p.FieldTimeout <= 0 {
		return fmt.Errorf("field_timeout must be a positive duration")
	}
	return nil
}
