package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime knob. Loaded once at startup and treated as
// constant afterwards.
type Config struct {
	APIBaseURL string // snapshot REST API
	APIToken   string
	StreamURL  string // realtime event hub

	DefaultAccountID string

	PollInterval     time.Duration
	FetchTimeout     time.Duration
	FailureThreshold int

	MaxLogSizeMB  int64
	MaxLogBackups int
}

// Load initializes the configuration.
// It tries to read a .env file and checks for necessary environment variables.
func Load() *Config {
	// Load .env variables into the process environment
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	// Critical and confidential variables.
	requiredSecretVars := map[string]bool{
		"GATEWAY_API_URL":    true,
		"GATEWAY_STREAM_URL": true,
	}

	var missing []string
	for key := range requiredSecretVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		log.Fatalf("CRITICAL: Missing required environment variables: %v", missing)
	}

	cfg := &Config{
		APIBaseURL:       os.Getenv("GATEWAY_API_URL"),
		APIToken:         os.Getenv("GATEWAY_API_TOKEN"),
		StreamURL:        os.Getenv("GATEWAY_STREAM_URL"),
		DefaultAccountID: os.Getenv("DEFAULT_ACCOUNT_ID"),
		PollInterval:     time.Duration(getEnvAsInt("POLL_INTERVAL_SECS", 15)) * time.Second,
		FetchTimeout:     time.Duration(getEnvAsInt("FETCH_TIMEOUT_SECS", 10)) * time.Second,
		FailureThreshold: getEnvAsInt("FAILURE_THRESHOLD", 3),
		MaxLogSizeMB:     int64(getEnvAsInt("MAX_LOG_SIZE_MB", 10)),
		MaxLogBackups:    getEnvAsInt("MAX_LOG_BACKUPS", 3),
	}

	// Print variables defined in .env, masking the token.
	envMap, err := godotenv.Read()
	if err == nil {
		log.Println("--- .env File Variables ---")
		for key, val := range envMap {
			if key == "GATEWAY_API_TOKEN" {
				masked := "***"
				if len(val) > 4 {
					masked = "***" + val[len(val)-4:]
				}
				log.Printf("%s=%s", key, masked)
			} else {
				log.Printf("%s=%s", key, val)
			}
		}
		log.Println("---------------------------")
	}

	return cfg
}
