// Package config provides configuration management for the trading bot.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultStrikeStep is the strike spacing when strategy.strike_step is unset
	defaultStrikeStep = 100
	// defaultStopLossMultiple triggers a leg close when its LTP reaches this
	// multiple of the traded price
	defaultStopLossMultiple = 2.0
	// defaultMaxCloseAttempts bounds the square-off loop
	defaultMaxCloseAttempts = 5
	// defaultCloseDeadline bounds the square-off loop in wall time
	defaultCloseDeadline = 10 * time.Minute
	// defaultTimezone is the exchange timezone
	defaultTimezone = "Asia/Kolkata"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines SmartAPI credentials and endpoint settings.
// Secrets are normally supplied via ${ENV_VAR} expansion in the YAML.
type BrokerConfig struct {
	APIKey      string `yaml:"api_key"`
	ClientCode  string `yaml:"client_code"`
	PIN         string `yaml:"pin"`
	TOTPSecret  string `yaml:"totp_secret"`
	APIEndpoint string `yaml:"api_endpoint"`
}

// StrategyConfig defines straddle parameters.
type StrategyConfig struct {
	Underlying       string `yaml:"underlying"`        // e.g. BANKNIFTY
	Exchange         string `yaml:"exchange"`          // e.g. NFO
	SpotExchange     string `yaml:"spot_exchange"`     // e.g. NSE
	SpotSymbol       string `yaml:"spot_symbol"`       // e.g. BANKNIFTY
	SpotToken        string `yaml:"spot_token"`        // index token; its LTP anchors the ATM strike
	ProductType      string `yaml:"product_type"`      // e.g. CARRYFORWARD
	Lots             int    `yaml:"lots"`              // number of lots per leg
	StrikeStep       int    `yaml:"strike_step"`       // strike spacing in points
	StrikeDifference int    `yaml:"strike_difference"` // rebalance threshold in points
}

// RiskConfig defines loss and square-off limits.
type RiskConfig struct {
	StopLossMultiple float64 `yaml:"stop_loss_multiple"` // close leg at LTP >= multiple * traded price
	MaxCloseAttempts int     `yaml:"max_close_attempts"`
	CloseDeadline    string  `yaml:"close_deadline"` // duration, e.g. "10m"
}

// ScheduleConfig defines trading schedule and market hours. SquareOffTime
// triggers the expiry-day close path; the session itself stays open for
// mutating action until MarketCloseTime.
type ScheduleConfig struct {
	MarketCheckInterval string `yaml:"market_check_interval"`
	Timezone            string `yaml:"timezone"`   // e.g. "Asia/Kolkata"
	EntryTime           string `yaml:"entry_time"` // "HH:MM", cycles gate before this
	SquareOffTime       string `yaml:"square_off_time"`
	MarketCloseTime     string `yaml:"market_close_time"`
}

// StorageConfig defines where day ledgers are written.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// DashboardConfig defines the read-only HTTP surface.
type DashboardConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required")
	}
	if c.Broker.ClientCode == "" {
		return fmt.Errorf("broker.client_code is required")
	}
	if c.Broker.PIN == "" {
		return fmt.Errorf("broker.pin is required")
	}
	if c.Broker.TOTPSecret == "" {
		return fmt.Errorf("broker.totp_secret is required")
	}

	if c.Strategy.Underlying == "" {
		return fmt.Errorf("strategy.underlying is required")
	}
	if c.Strategy.Exchange == "" {
		return fmt.Errorf("strategy.exchange is required")
	}
	if c.Strategy.SpotExchange == "" {
		return fmt.Errorf("strategy.spot_exchange is required")
	}
	if c.Strategy.SpotToken == "" {
		return fmt.Errorf("strategy.spot_token is required")
	}
	if c.Strategy.Lots <= 0 {
		return fmt.Errorf("strategy.lots must be > 0")
	}
	c.normalizeDefaults()
	if c.Strategy.StrikeStep <= 0 {
		return fmt.Errorf("strategy.strike_step must be > 0")
	}
	if c.Strategy.StrikeDifference <= 0 {
		return fmt.Errorf("strategy.strike_difference must be > 0")
	}
	// A threshold below the strike spacing would rebalance on every tick
	// toward a strike that rounds back to the one already traded.
	if c.Strategy.StrikeDifference < c.Strategy.StrikeStep {
		return fmt.Errorf("strategy.strike_difference (%d) must be >= strategy.strike_step (%d)",
			c.Strategy.StrikeDifference, c.Strategy.StrikeStep)
	}

	if c.Risk.StopLossMultiple <= 1.0 {
		return fmt.Errorf("risk.stop_loss_multiple must be > 1.0")
	}
	if c.Risk.MaxCloseAttempts <= 0 {
		return fmt.Errorf("risk.max_close_attempts must be > 0")
	}
	if _, err := time.ParseDuration(c.Risk.CloseDeadline); err != nil {
		return fmt.Errorf("risk.close_deadline invalid: %w", err)
	}

	if _, err := time.ParseDuration(c.Schedule.MarketCheckInterval); err != nil {
		return fmt.Errorf("schedule.market_check_interval invalid: %w", err)
	}
	loc := c.Location()
	s, err1 := time.ParseInLocation("15:04", c.Schedule.EntryTime, loc)
	e, err2 := time.ParseInLocation("15:04", c.Schedule.SquareOffTime, loc)
	m, err3 := time.ParseInLocation("15:04", c.Schedule.MarketCloseTime, loc)
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("schedule times must be HH:MM")
	}
	entryMin := s.Hour()*60 + s.Minute()
	squareOffMin := e.Hour()*60 + e.Minute()
	closeMin := m.Hour()*60 + m.Minute()
	if entryMin >= squareOffMin || squareOffMin > closeMin {
		return fmt.Errorf("schedule must order entry < square-off <= market close")
	}

	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Dashboard.Enabled && c.Dashboard.ListenAddr == "" {
		return fmt.Errorf("dashboard.listen_addr is required when dashboard.enabled")
	}

	return nil
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetCheckInterval returns the configured market check interval duration.
func (c *Config) GetCheckInterval() time.Duration {
	d, err := time.ParseDuration(c.Schedule.MarketCheckInterval)
	if err != nil {
		return 5 * time.Minute // default
	}
	return d
}

// GetCloseDeadline returns the square-off loop wall-time budget.
func (c *Config) GetCloseDeadline() time.Duration {
	d, err := time.ParseDuration(c.Risk.CloseDeadline)
	if err != nil {
		return defaultCloseDeadline
	}
	return d
}

// Location resolves the exchange timezone, falling back to a fixed IST
// offset on minimal containers without tzdata.
func (c *Config) Location() *time.Location {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

// IsWithinTradingHours checks if the given time falls within the entry to
// market-close window. Inclusive start, exclusive end.
func (c *Config) IsWithinTradingHours(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)

	// Only allow Monday to Friday trading
	if today.Weekday() == time.Saturday || today.Weekday() == time.Sunday {
		return false
	}

	startClock, err1 := time.ParseInLocation("15:04", c.Schedule.EntryTime, loc)
	endClock, err2 := time.ParseInLocation("15:04", c.Schedule.MarketCloseTime, loc)
	if err1 != nil || err2 != nil {
		// Safe defaults if misconfigured
		startClock = time.Date(0, 1, 1, 9, 15, 0, 0, loc)
		endClock = time.Date(0, 1, 1, 15, 30, 0, 0, loc)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(),
		startClock.Hour(), startClock.Minute(), 0, 0, loc)
	end := time.Date(today.Year(), today.Month(), today.Day(),
		endClock.Hour(), endClock.Minute(), 0, 0, loc)

	return !today.Before(start) && today.Before(end)
}

// IsPastSquareOff reports whether now is at or past the square-off time.
func (c *Config) IsPastSquareOff(now time.Time) bool {
	loc := c.Location()
	today := now.In(loc)
	clock, err := time.ParseInLocation("15:04", c.Schedule.SquareOffTime, loc)
	if err != nil {
		clock = time.Date(0, 1, 1, 15, 15, 0, 0, loc)
	}
	cutoff := time.Date(today.Year(), today.Month(), today.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc)
	return !today.Before(cutoff)
}

// normalizeDefaults fills optional fields with their defaults.
func (c *Config) normalizeDefaults() {
	if c.Strategy.StrikeStep == 0 {
		c.Strategy.StrikeStep = defaultStrikeStep
	}
	if c.Strategy.SpotSymbol == "" {
		c.Strategy.SpotSymbol = c.Strategy.Underlying
	}
	if c.Risk.StopLossMultiple == 0 {
		c.Risk.StopLossMultiple = defaultStopLossMultiple
	}
	if c.Risk.MaxCloseAttempts == 0 {
		c.Risk.MaxCloseAttempts = defaultMaxCloseAttempts
	}
	if c.Risk.CloseDeadline == "" {
		c.Risk.CloseDeadline = defaultCloseDeadline.String()
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.MarketCloseTime == "" {
		c.Schedule.MarketCloseTime = "15:30"
	}
}
