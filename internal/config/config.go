package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Clinic identity and backend API access.
	ClinicID         string
	BackendBaseURL   string
	BackendAuthToken string

	// ClinicUTCOffsetMinutes is the fixed clinic-wide UTC offset applied to
	// all wall-clock input (e.g. 330 for IST). It is configured, never
	// derived from the runtime's local timezone.
	ClinicUTCOffsetMinutes int

	// WeekStart is the first day of week views: "monday" or "sunday".
	WeekStart time.Weekday

	SettingsCacheTTL time.Duration

	RedisAddr     string
	RedisPassword string

	// CORSAllowedOrigins lists the front-end origins allowed to call the
	// API. Empty disables the CORS middleware.
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		LogLevel:               getEnv("LOG_LEVEL", "info"),
		ClinicID:               getEnv("CLINIC_ID", ""),
		BackendBaseURL:         getEnv("BACKEND_BASE_URL", ""),
		BackendAuthToken:       getEnv("BACKEND_AUTH_TOKEN", ""),
		ClinicUTCOffsetMinutes: getEnvAsInt("CLINIC_UTC_OFFSET_MIN", 330),
		WeekStart:              parseWeekStart(getEnv("WEEK_START", "monday")),
		SettingsCacheTTL:       getEnvAsDuration("SETTINGS_CACHE_TTL", 5*time.Minute),
		RedisAddr:              getEnv("REDIS_ADDR", ""),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		CORSAllowedOrigins:     splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func splitAndTrim(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseWeekStart(value string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(value), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
