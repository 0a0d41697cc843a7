package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"weatherbot/pkg/logx"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Timezone string         `json:"timezone"`
	Ledger   LedgerConfig   `json:"ledger"`
	History  HistoryConfig  `json:"history"`
	Weather  WeatherConfig  `json:"weather"`
	LLM      LLMConfig      `json:"llm"`
	Delivery DeliveryConfig `json:"delivery"`
	Logging  logx.Config    `json:"logging"`
}

type TelegramConfig struct {
	Token       string   `json:"token"`
	PollTimeout Duration `json:"poll_timeout"`
	// SendRatePerSec caps outbound messages (Telegram throttles bursty bots).
	SendRatePerSec int `json:"send_rate_per_sec"`
}

type LedgerConfig struct {
	// Path to the subscriptions JSON file. Created if absent.
	Path string `json:"path"`
}

type HistoryConfig struct {
	// Driver is "sqlite" or "none" (disabled).
	Driver      string   `json:"driver"`
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout"`
}

type WeatherConfig struct {
	AmapKey     string   `json:"amap_key"`
	DefaultCity string   `json:"default_city"`
	Timeout     Duration `json:"timeout"`
}

type LLMConfig struct {
	BaseURL string   `json:"base_url"`
	APIKey  string   `json:"api_key"`
	Model   string   `json:"model"`
	Timeout Duration `json:"timeout"`
}

type DeliveryConfig struct {
	// SendMode is "text" or "image".
	SendMode string `json:"send_mode"`
	// Enhance pipes the formatted report through the LLM before sending.
	Enhance bool `json:"enhance"`
	// EnhancePrompt is the free-form instruction given to the enhancer.
	EnhancePrompt string `json:"enhance_prompt"`
}

// Normalize fills defaults for optional fields. Call before Validate.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = "Asia/Shanghai"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = "./data/subscriptions.json"
	}
	if c.History.Driver == "" {
		c.History.Driver = "none"
	}
	if c.Telegram.PollTimeout.D() <= 0 {
		c.Telegram.PollTimeout = Duration(10 * time.Second)
	}
	if c.Telegram.SendRatePerSec <= 0 {
		c.Telegram.SendRatePerSec = 1
	}
	if c.Weather.DefaultCity == "" {
		c.Weather.DefaultCity = "苏州"
	}
	if c.Weather.Timeout.D() <= 0 {
		c.Weather.Timeout = Duration(10 * time.Second)
	}
	if c.LLM.Timeout.D() <= 0 {
		c.LLM.Timeout = Duration(30 * time.Second)
	}
	if c.Delivery.SendMode == "" {
		c.Delivery.SendMode = "text"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	switch c.Delivery.SendMode {
	case "text", "image":
	default:
		return fmt.Errorf("delivery.send_mode must be %q or %q, got %q", "text", "image", c.Delivery.SendMode)
	}
	switch strings.ToLower(c.History.Driver) {
	case "none", "sqlite":
	default:
		return fmt.Errorf("history.driver must be %q or %q, got %q", "sqlite", "none", c.History.Driver)
	}
	if strings.ToLower(c.History.Driver) == "sqlite" && strings.TrimSpace(c.History.Path) == "" {
		return errors.New("history.path is required for the sqlite driver")
	}
	return nil
}

// Location resolves the configured time zone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
