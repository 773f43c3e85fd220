package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Security   SecurityConfig   `yaml:"security"`
	LLM        LLMConfig        `yaml:"llm"`
	Processing ProcessingConfig `yaml:"processing"`
	Outbound   OutboundConfig   `yaml:"outbound"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Log        LogConfig        `yaml:"log"`
	Mailboxes  []MailboxConfig  `yaml:"mailboxes"`
}

// ServerConfig holds the HTTP and inbound SMTP listener settings
type ServerConfig struct {
	HTTPHost       string    `yaml:"http_host"`
	HTTPPort       int       `yaml:"http_port"`
	SMTPEnabled    bool      `yaml:"smtp_enabled"`
	SMTPHost       string    `yaml:"smtp_host"`
	SMTPPort       int       `yaml:"smtp_port"`
	SMTPDomain     string    `yaml:"smtp_domain"`
	TLS            TLSConfig `yaml:"tls"`
	AllowedDomains []string  `yaml:"allowed_domains"`
}

// TLSConfig holds TLS settings
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds the shared secret used to sign inbound webhooks
type SecurityConfig struct {
	InboundSecret string `yaml:"inbound_secret"`
}

// LLMConfig holds completion endpoint settings
type LLMConfig struct {
	BaseURL                string        `yaml:"base_url"`
	APIKey                 string        `yaml:"api_key"`
	Model                  string        `yaml:"model"`
	MaxTokens              int           `yaml:"max_tokens"`
	Temperature            *float32      `yaml:"temperature"`
	TranslationTemperature *float32      `yaml:"translation_temperature"`
	Timeout                time.Duration `yaml:"timeout"`
}

// ReplyTemperature is the sampling temperature for analysis. Unset means 0.7.
func (l LLMConfig) ReplyTemperature() float32 {
	if l.Temperature == nil {
		return 0.7
	}
	return *l.Temperature
}

// TranslateTemperature is the sampling temperature for translation. Unset
// means 0.3.
func (l LLMConfig) TranslateTemperature() float32 {
	if l.TranslationTemperature == nil {
		return 0.3
	}
	return *l.TranslationTemperature
}

// ProcessingConfig controls parsing limits and the auto-reply switch
type ProcessingConfig struct {
	MaxContentLength     int    `yaml:"max_content_length"`
	AutoReplyEnabled     *bool  `yaml:"auto_reply_enabled"`
	DefaultReplyLanguage string `yaml:"default_reply_language"`
}

// AutoReply reports whether replies are sent. Unset means enabled.
func (p ProcessingConfig) AutoReply() bool {
	return p.AutoReplyEnabled == nil || *p.AutoReplyEnabled
}

// OutboundConfig holds outbound email settings
type OutboundConfig struct {
	Provider               string        `yaml:"provider"` // "resend", "smtp", or "none"
	SMTPFallback           bool          `yaml:"smtp_fallback"`
	ResendKey              string        `yaml:"resend_key"`
	FromAddress            string        `yaml:"from_address"`
	FromName               string        `yaml:"from_name"`
	TranslationFromAddress string        `yaml:"translation_from_address"`
	Timeout                time.Duration `yaml:"timeout"`
	// SMTP settings (if provider is "smtp" or smtp_fallback is set)
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// UsesSMTP reports whether an SMTP relay is part of the send path.
func (o OutboundConfig) UsesSMTP() bool {
	return o.Provider == "smtp" || o.SMTPFallback
}

// DatabaseConfig holds database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the Message-ID dedup store settings. An empty URL
// disables deduplication.
type RedisConfig struct {
	URL      string        `yaml:"url"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

// CleanupConfig schedules the retention job
type CleanupConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Schedule   string `yaml:"schedule"`
	RetainDays int    `yaml:"retain_days"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// MailboxConfig defines a routing rule and processor
type MailboxConfig struct {
	Name      string          `yaml:"name"`
	Match     MatchConfig     `yaml:"match"`
	Processor ProcessorConfig `yaml:"processor"`
}

// MatchConfig defines email matching criteria
type MatchConfig struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Subject string `yaml:"subject"`
}

// CompiledMatch holds compiled regex patterns for matching
type CompiledMatch struct {
	From    *regexp.Regexp
	To      *regexp.Regexp
	Subject *regexp.Regexp
}

// Compile compiles the match patterns into regex
func (m *MatchConfig) Compile() (*CompiledMatch, error) {
	cm := &CompiledMatch{}
	var err error

	if m.From != "" {
		cm.From, err = regexp.Compile(m.From)
		if err != nil {
			return nil, err
		}
	}

	if m.To != "" {
		cm.To, err = regexp.Compile(m.To)
		if err != nil {
			return nil, err
		}
	}

	if m.Subject != "" {
		cm.Subject, err = regexp.Compile(m.Subject)
		if err != nil {
			return nil, err
		}
	}

	return cm, nil
}

// ProcessorConfig defines how to process matched emails
type ProcessorConfig struct {
	Type           string `yaml:"type"` // "reply", "translate", "noop"
	TargetLanguage string `yaml:"target_language"`
}

// Load reads and parses the configuration file. A missing file yields the
// defaults so the service can run from environment variables alone.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	// Set defaults
	cfg.setDefaults()

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "${" + key + "}"
	})
}

// applyEnvOverrides lets well-known environment variables win over the file.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"INBOUND_SECRET": &c.Security.InboundSecret,
		"AI_API_KEY":     &c.LLM.APIKey,
		"AI_MODEL":       &c.LLM.Model,
		"SMTP_PASSWORD":  &c.Outbound.Password,
		"RESEND_API_KEY": &c.Outbound.ResendKey,
		"REDIS_URL":      &c.Redis.URL,
	}
	for key, dst := range strs {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}

	if val := os.Getenv("AI_API_URL"); val != "" {
		c.LLM.BaseURL = val
	}
	c.LLM.BaseURL = trimCompletionsPath(c.LLM.BaseURL)

	if val := os.Getenv("AI_MAX_TOKENS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid AI_MAX_TOKENS: %w", err)
		}
		c.LLM.MaxTokens = n
	}
	if val := os.Getenv("AI_TEMPERATURE"); val != "" {
		f, err := strconv.ParseFloat(val, 32)
		if err != nil {
			return fmt.Errorf("invalid AI_TEMPERATURE: %w", err)
		}
		t := float32(f)
		c.LLM.Temperature = &t
	}
	return nil
}

// trimCompletionsPath turns a full chat completions endpoint into the API
// base the client appends the path to.
func trimCompletionsPath(url string) string {
	url = strings.TrimRight(url, "/")
	return strings.TrimSuffix(url, "/chat/completions")
}

// setDefaults sets default values for missing configuration
func (c *Config) setDefaults() {
	if c.Server.HTTPHost == "" {
		c.Server.HTTPHost = "0.0.0.0"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 7582
	}
	if c.Server.SMTPPort == 0 {
		c.Server.SMTPPort = 2525
	}
	if c.Server.SMTPHost == "" {
		c.Server.SMTPHost = "0.0.0.0"
	}
	if c.Server.SMTPDomain == "" {
		c.Server.SMTPDomain = "localhost"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./replyd.db"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://kr777.top/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "grok-3"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 10000
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 30 * time.Second
	}
	if c.Processing.MaxContentLength == 0 {
		c.Processing.MaxContentLength = 100000
	}
	if c.Processing.DefaultReplyLanguage == "" {
		c.Processing.DefaultReplyLanguage = "zh"
	}
	if c.Outbound.Provider == "" {
		c.Outbound.Provider = "none"
	}
	if c.Outbound.FromAddress == "" {
		c.Outbound.FromAddress = "ai@kr777.top"
	}
	if c.Outbound.FromName == "" {
		c.Outbound.FromName = "AI智能助手"
	}
	if c.Outbound.TranslationFromAddress == "" {
		c.Outbound.TranslationFromAddress = "trans@kr777.top"
	}
	if c.Outbound.Port == 0 {
		c.Outbound.Port = 587
	}
	if c.Outbound.Timeout == 0 {
		c.Outbound.Timeout = 30 * time.Second
	}
	if c.Redis.DedupTTL == 0 {
		c.Redis.DedupTTL = 24 * time.Hour
	}
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "0 3 * * *"
	}
	if c.Cleanup.RetainDays == 0 {
		c.Cleanup.RetainDays = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate returns human readable warnings about settings that will make
// parts of the service degrade. An empty slice means fully configured.
func (c *Config) Validate() []string {
	var warnings []string
	if c.Security.InboundSecret == "" {
		warnings = append(warnings, "INBOUND_SECRET 未设置，所有入站请求都将被拒绝")
	}
	if c.LLM.APIKey == "" {
		warnings = append(warnings, "AI_API_KEY 未设置")
	}
	if c.Outbound.Provider == "resend" && c.Outbound.ResendKey == "" {
		warnings = append(warnings, "RESEND_API_KEY 未设置")
	}
	if c.Outbound.UsesSMTP() && c.Outbound.Password == "" {
		warnings = append(warnings, "SMTP_PASSWORD 未设置")
	}
	for _, mb := range c.Mailboxes {
		if _, err := mb.Match.Compile(); err != nil {
			warnings = append(warnings, fmt.Sprintf("mailbox %q has an invalid pattern: %v", mb.Name, err))
		}
	}
	return warnings
}

// Info is the non-secret configuration summary served by the index endpoint.
type Info struct {
	HTTPAddr         string `json:"http_addr"`
	SMTPEnabled      bool   `json:"smtp_enabled"`
	OutboundProvider string `json:"outbound_provider"`
	FromAddress      string `json:"from_address"`
	AIModel          string `json:"ai_model"`
	AutoReplyEnabled bool   `json:"auto_reply_enabled"`
	DedupEnabled     bool   `json:"dedup_enabled"`
}

// Info returns the configuration summary.
func (c *Config) Info() Info {
	return Info{
		HTTPAddr:         c.HTTPAddr(),
		SMTPEnabled:      c.Server.SMTPEnabled,
		OutboundProvider: c.Outbound.Provider,
		FromAddress:      c.Outbound.FromAddress,
		AIModel:          c.LLM.Model,
		AutoReplyEnabled: c.Processing.AutoReply(),
		DedupEnabled:     c.Redis.URL != "",
	}
}

// HTTPAddr returns the host:port the HTTP server listens on.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.HTTPHost, c.Server.HTTPPort)
}

// GetMailboxByName returns a mailbox configuration by name
func (c *Config) GetMailboxByName(name string) *MailboxConfig {
	for i := range c.Mailboxes {
		if strings.EqualFold(c.Mailboxes[i].Name, name) {
			return &c.Mailboxes[i]
		}
	}
	return nil
}
