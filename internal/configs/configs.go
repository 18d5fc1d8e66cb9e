/*
Package configs is responsible for loading and parsing the application's configuration settings.

It configures server parameters by reading operating system environment variables,
including the running environment, port, CORS allowed origins, the static client
bundle directory, and the WebSocket upgrade rate limit.
*/
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// AppConfig contains all configuration parameters required for the application to run.
// All configuration values are loaded from environment variables.
type AppConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string

	// StaticDir is the directory holding the built client bundle. Empty or
	// missing directory means no static serving.
	StaticDir string

	// WebSocket upgrade rate limit (per client IP).
	WSRate  float64
	WSBurst int
}

// LoadConfig reads and parses the application configuration from environment variables.
// It provides default values for each configuration item and performs necessary type conversions and validation.
// It returns a pointer to the AppConfig struct and any error encountered.
func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}

	// --- General Server Settings ---
	// Environment
	cfg.Environment = os.Getenv("ENVIRONMENT")
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// Port
	portStr := os.Getenv("PORT")
	if portStr == "" {
		portStr = "8080"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT environment variable: %w", err)
	}
	cfg.Port = port

	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	// AllowedOrigins
	originsStr := os.Getenv("ALLOWED_ORIGINS")
	if originsStr != "" {
		origins := strings.Split(originsStr, ",")
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	} else {
		cfg.AllowedOrigins = []string{}
	}

	// --- Static Assets ---
	cfg.StaticDir = os.Getenv("STATIC_DIR")

	// --- WebSocket Upgrade Rate Limit ---
	rateStr := os.Getenv("WS_RATE")
	if rateStr == "" {
		rateStr = "0.2"
	}
	wsRate, err := strconv.ParseFloat(rateStr, 64)
	if err != nil || wsRate <= 0 {
		return nil, fmt.Errorf("invalid WS_RATE environment variable: %q", rateStr)
	}
	cfg.WSRate = wsRate

	burstStr := os.Getenv("WS_BURST")
	if burstStr == "" {
		burstStr = "5"
	}
	wsBurst, err := strconv.Atoi(burstStr)
	if err != nil || wsBurst < 1 {
		return nil, fmt.Errorf("invalid WS_BURST environment variable: %q", burstStr)
	}
	cfg.WSBurst = wsBurst

	return cfg, nil
}
