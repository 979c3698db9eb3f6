package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the orchestrator's environment-driven configuration.
type Config struct {
	DatabasePath string

	// Resource is the exclusive resource this orchestrator manages.
	Resource string

	// InstanceCommand is the argv (comma-separated) used to launch the
	// managed service; {version} is substituted with the target version.
	InstanceCommand []string
	InstanceDir     string

	// HealthURL enables the HTTP readiness probe; HealthAddress the TCP
	// probe. When both are empty only process-exit inspection applies.
	HealthURL     string
	HealthAddress string

	StopTimeout      time.Duration
	LeaseDuration    time.Duration
	LockRetryLimit   int
	LockRetryBackoff time.Duration
	HealthTimeout    time.Duration
	HealthInterval   time.Duration

	MaxConsecutiveFailures int
}

func Load() *Config {
	return &Config{
		DatabasePath:    getEnv("CUTOVER_DB", "cutover.db"),
		Resource:        getEnv("CUTOVER_RESOURCE", "default"),
		InstanceCommand: splitCSV(os.Getenv("CUTOVER_COMMAND")),
		InstanceDir:     os.Getenv("CUTOVER_DIR"),
		HealthURL:       os.Getenv("CUTOVER_HEALTH_URL"),
		HealthAddress:   os.Getenv("CUTOVER_HEALTH_ADDR"),

		StopTimeout:      getDuration("CUTOVER_STOP_TIMEOUT", 30*time.Second),
		LeaseDuration:    getDuration("CUTOVER_LEASE", 15*time.Second),
		LockRetryLimit:   getInt("CUTOVER_LOCK_RETRIES", 5),
		LockRetryBackoff: getDuration("CUTOVER_LOCK_BACKOFF", 500*time.Millisecond),
		HealthTimeout:    getDuration("CUTOVER_HEALTH_TIMEOUT", 60*time.Second),
		HealthInterval:   getDuration("CUTOVER_HEALTH_INTERVAL", time.Second),

		MaxConsecutiveFailures: getInt("CUTOVER_MAX_FAILURES", 3),
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			result = append(result, v)
		}
	}
	return result
}
