package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ticket_grabber/internal/model"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Limits   LimitsConfig   `yaml:"limits"`
	Provider ProviderConfig `yaml:"provider"`
	Grab     GrabConfig     `yaml:"grab"`
	Captcha  CaptchaConfig  `yaml:"captcha"`
	CToken   CTokenConfig   `yaml:"ctoken"`
	Notify   NotifyConfig   `yaml:"notify"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format 为 console 或 json。
	Format string `yaml:"format"`
	// BufferSize 是事件总线保留的最近消息条数。
	BufferSize int `yaml:"bufferSize"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

type ProxyConfig struct {
	Global string `yaml:"global"`
}

type LimitsConfig struct {
	GlobalQPS   float64 `yaml:"globalQPS"`
	GlobalBurst int     `yaml:"globalBurst"`
	// 单个账号会话的请求速率，0 表示不限速。
	SessionQPS   float64 `yaml:"sessionQPS"`
	SessionBurst int     `yaml:"sessionBurst"`
}

type ProviderConfig struct {
	ShowBaseURL string           `yaml:"showBaseURL"`
	APIBaseURL  string           `yaml:"apiBaseURL"`
	TimeoutMs   int              `yaml:"timeoutMs"`
	Retry       ProviderRetryCfg `yaml:"retry"`
	UserAgent   string           `yaml:"userAgent"`
}

type ProviderRetryCfg struct {
	Count     int `yaml:"count"`
	WaitMs    int `yaml:"waitMs"`
	MaxWaitMs int `yaml:"maxWaitMs"`
}

func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c ProviderRetryCfg) Wait() time.Duration {
	if c.WaitMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.WaitMs) * time.Millisecond
}

func (c ProviderRetryCfg) MaxWait() time.Duration {
	if c.MaxWaitMs <= 0 {
		return 1200 * time.Millisecond
	}
	return time.Duration(c.MaxWaitMs) * time.Millisecond
}

type GrabConfig struct {
	MaxTokenRetry     int  `yaml:"maxTokenRetry"`
	MaxConfirmRetry   int  `yaml:"maxConfirmRetry"`
	MaxOrderRetry     int  `yaml:"maxOrderRetry"`
	MaxFakeCheckRetry int  `yaml:"maxFakeCheckRetry"`
	RetryIntervalMs   int  `yaml:"retryIntervalMs"`
	LeakPollMs        int  `yaml:"leakPollMs"`
	// LeakSaleFlags 为空时捡漏模式不检查场次售票标志位。
	LeakSaleFlags []int `yaml:"leakSaleFlags"`
	ScreenWidth   int   `yaml:"screenWidth"`
	ScreenHeight  int   `yaml:"screenHeight"`
	FastClick     bool  `yaml:"fastClick"`
}

func (c GrabConfig) Budget() model.RetryBudget {
	return model.RetryBudget{
		MaxTokenRetry:     c.MaxTokenRetry,
		MaxConfirmRetry:   c.MaxConfirmRetry,
		MaxOrderRetry:     c.MaxOrderRetry,
		MaxFakeCheckRetry: c.MaxFakeCheckRetry,
		RetryIntervalMs:   c.RetryIntervalMs,
	}
}

func (c GrabConfig) LeakPollInterval() time.Duration {
	if c.LeakPollMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.LeakPollMs) * time.Millisecond
}

const (
	CaptchaModeTTOCR   = "ttocr"
	CaptchaModeBrowser = "browser"
)

type CaptchaConfig struct {
	Mode          string `yaml:"mode"`
	TTOCRKey      string `yaml:"ttocrKey"`
	TTOCRBaseURL  string `yaml:"ttocrBaseURL"`
	Headless      bool   `yaml:"headless"`
	BrowserBin    string `yaml:"browserBin"`
	TimeoutMs     int    `yaml:"timeoutMs"`
	MaxConcurrent int    `yaml:"maxConcurrent"`
}

func (c CaptchaConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type CTokenConfig struct {
	// Endpoint 为空时使用空 token，仅适用于非热门项目。
	Endpoint  string `yaml:"endpoint"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

func (c CTokenConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type NotifyConfig struct {
	EmailSummarySeconds int `yaml:"emailSummarySeconds"`
	PushTimeoutMs       int `yaml:"pushTimeoutMs"`
}

func (c NotifyConfig) EmailSummaryWindow() time.Duration {
	if c.EmailSummarySeconds <= 0 {
		return 0
	}
	if c.EmailSummarySeconds > 600 {
		return 600 * time.Second
	}
	return time.Duration(c.EmailSummarySeconds) * time.Second
}

func (c NotifyConfig) PushTimeout() time.Duration {
	if c.PushTimeoutMs <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.PushTimeoutMs) * time.Millisecond
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.BufferSize <= 0 {
		c.Log.BufferSize = 500
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/ticket_grabber.db"
	}
	if c.Limits.GlobalBurst <= 0 {
		c.Limits.GlobalBurst = 10
	}
	if c.Limits.SessionBurst <= 0 {
		c.Limits.SessionBurst = 2
	}
	if c.Provider.ShowBaseURL == "" {
		c.Provider.ShowBaseURL = "https://show.bilibili.com"
	}
	if c.Provider.APIBaseURL == "" {
		c.Provider.APIBaseURL = "https://api.bilibili.com"
	}
	if c.Provider.UserAgent == "" {
		c.Provider.UserAgent = "Mozilla/5.0 (Linux; Android 6.0; Nexus 5 Build/MRA58N) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Mobile Safari/537.36"
	}
	if c.Provider.Retry.Count < 0 {
		c.Provider.Retry.Count = 0
	}
	c.Grab.applyDefaults()
	if c.Captcha.Mode == "" {
		c.Captcha.Mode = CaptchaModeBrowser
	}
	c.Captcha.Mode = strings.ToLower(strings.TrimSpace(c.Captcha.Mode))
	if c.Captcha.TTOCRBaseURL == "" {
		c.Captcha.TTOCRBaseURL = "http://api.ttocr.com"
	}
	if c.Captcha.MaxConcurrent <= 0 {
		c.Captcha.MaxConcurrent = 1
	}
	if c.Notify.EmailSummarySeconds == 0 {
		c.Notify.EmailSummarySeconds = 20
	}
}

func (g *GrabConfig) applyDefaults() {
	if g.MaxTokenRetry <= 0 {
		g.MaxTokenRetry = 5
	}
	if g.MaxConfirmRetry <= 0 {
		g.MaxConfirmRetry = 4
	}
	if g.MaxOrderRetry <= 0 {
		g.MaxOrderRetry = 30
	}
	if g.MaxFakeCheckRetry <= 0 {
		g.MaxFakeCheckRetry = 5
	}
	if g.RetryIntervalMs <= 0 {
		g.RetryIntervalMs = 300
	}
	if g.ScreenWidth <= 0 {
		g.ScreenWidth = 1080
	}
	if g.ScreenHeight <= 0 {
		g.ScreenHeight = 2400
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Provider.ShowBaseURL == "" || c.Provider.APIBaseURL == "" {
		return errors.New("provider base urls are required")
	}
	switch c.Captcha.Mode {
	case CaptchaModeTTOCR, CaptchaModeBrowser:
	default:
		return fmt.Errorf("captcha.mode %q is not supported", c.Captcha.Mode)
	}
	if c.Captcha.Mode == CaptchaModeTTOCR && strings.TrimSpace(c.Captcha.TTOCRKey) == "" {
		return errors.New("captcha.ttocrKey is required for ttocr mode")
	}
	return nil
}
