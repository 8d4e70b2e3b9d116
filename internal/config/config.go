// Package config provides configuration management for the appointment monitor.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the monitor.
type Config struct {
	// Upstream API settings
	BaseURL     string
	WebOrigin   string
	HTTPTimeout time.Duration
	UserAgent   string

	// CAPTCHA settings
	TwoCaptchaAPIKey string
	CaptchaWidth     int
	CaptchaHeight    int

	// Backoff settings
	BaseDelay       time.Duration
	Jitter          time.Duration
	SoftLimitBase   time.Duration
	CaptchaBase     time.Duration
	CaptchaMax      time.Duration
	CaptchaMult     float64
	SlotSwitchDelay time.Duration
	RetryDelay      time.Duration
	EmptyPollDelay  time.Duration

	// Status server settings
	StatusPort    int
	StatusEnabled bool

	// Search parameters
	LocationID    string
	PartySize     int
	CountryName   string
	ConsulateName string
	ServiceName   string
}

// Load creates a Config from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BaseURL:     getEnv("EKONSULAT_BASE_URL", "https://api.e-konsulat.gov.pl"),
		WebOrigin:   getEnv("EKONSULAT_WEB_ORIGIN", "https://e-konsulat.gov.pl"),
		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		UserAgent:   getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),

		TwoCaptchaAPIKey: getEnv("TWOCAPTCHA_API_KEY", ""),
		CaptchaWidth:     getEnvInt("CAPTCHA_WIDTH", 400),
		CaptchaHeight:    getEnvInt("CAPTCHA_HEIGHT", 120),

		BaseDelay:       getEnvDuration("BASE_DELAY", 500*time.Millisecond),
		Jitter:          getEnvDuration("JITTER", time.Second),
		SoftLimitBase:   getEnvDuration("SOFT_LIMIT_BASE", 3*time.Second),
		CaptchaBase:     getEnvDuration("CAPTCHA_BACKOFF_BASE", 2500*time.Millisecond),
		CaptchaMax:      getEnvDuration("CAPTCHA_BACKOFF_MAX", 12*time.Second),
		CaptchaMult:     getEnvFloat("CAPTCHA_BACKOFF_MULT", 2.0),
		SlotSwitchDelay: getEnvDuration("SLOT_SWITCH_DELAY", 100*time.Millisecond),
		RetryDelay:      getEnvDuration("RETRY_DELAY", 200*time.Millisecond),
		EmptyPollDelay:  getEnvDuration("EMPTY_POLL_DELAY", 100*time.Millisecond),

		StatusPort:    getEnvInt("STATUS_PORT", 8420),
		StatusEnabled: getEnv("STATUS_ENABLED", "true") == "true",

		LocationID:    getEnv("LOCATION_ID", ""),
		PartySize:     getEnvInt("PARTY_SIZE", 1),
		CountryName:   getEnv("COUNTRY_NAME", ""),
		ConsulateName: getEnv("CONSULATE_NAME", ""),
		ServiceName:   getEnv("SERVICE_NAME", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
