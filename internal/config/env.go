package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFromEnv parses every supported environment variable and applies
// it on top of Default(). Unset variables leave the default untouched;
// a malformed value is silently ignored rather than aborting startup.
func LoadFromEnv() *Config {
	cfg := Default()
	ApplyEnv(cfg)
	return cfg
}

// ApplyEnv mutates cfg in place from the process environment.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("HOST")); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Port = v
	}
	if v := strings.TrimSpace(os.Getenv("STREAMING_MODE")); v != "" {
		cfg.StreamingMode = v
	}
	if v, ok := envInt("FAILURE_THRESHOLD"); ok {
		cfg.FailureThreshold = int32(v)
	}
	if v, ok := envInt("SWITCH_ON_USES"); ok {
		cfg.SwitchOnUses = int32(v)
	}
	if v, ok := envInt("MAX_RETRIES"); ok {
		cfg.MaxRetries = v
	}
	if v, ok := envDuration("RETRY_DELAY"); ok {
		cfg.RetryDelay = v
	}
	if v := strings.TrimSpace(os.Getenv("IMMEDIATE_SWITCH_STATUS_CODES")); v != "" {
		cfg.ImmediateSwitchStatuses = parseStatusSet(v)
	}
	if v := strings.TrimSpace(os.Getenv("API_KEYS")); v != "" {
		cfg.APIKeys = splitCSV(v)
	}
	if v, ok := envInt("INITIAL_AUTH_INDEX"); ok {
		cfg.InitialAuthIndex = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTH_DIR")); v != "" {
		cfg.AuthDir = v
	}
	if boolEnv("DEBUG") {
		cfg.Debug = true
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FILE")); v != "" {
		cfg.LogFile = v
	}
	if boolEnv("RESUME_ON_PROHIBIT") {
		cfg.ResumeOnProhibit = true
	}
	if v, ok := envInt("RESUME_LIMIT"); ok {
		cfg.ResumeLimit = v
	}
	if boolEnv("REASONING") {
		cfg.ReasoningEnabled = true
	}
	if boolEnv("NATIVE_REASONING") {
		cfg.NativeReasoningEnabled = true
	}
	if v, ok := envInt("RATE_LIMIT_RPS"); ok {
		cfg.RateLimitRPS = v
	}
	if v, ok := envInt("RATE_LIMIT_BURST"); ok {
		cfg.RateLimitBurst = v
	}
}

// HasEnvCredentials reports whether any AUTH_JSON_<N> variable is present,
// which puts credential discovery into "env mode".
func HasEnvCredentials() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "AUTH_JSON_") {
			return true
		}
	}
	return false
}

func envInt(name string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(name string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, true
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}

func boolEnv(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseStatusSet(raw string) map[int]struct{} {
	set := make(map[int]struct{})
	for _, p := range splitCSV(raw) {
		code, err := strconv.Atoi(p)
		if err != nil || code < 400 || code > 599 {
			continue
		}
		set[code] = struct{}{}
	}
	return set
}
