package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileOverlay is the subset of Config that may be supplied via an optional
// config.yaml, for operational knobs an operator wants to tune without
// touching the process environment (retry count and delay, rotation
// thresholds, reasoning toggles). Secrets (API keys, credential blobs) are deliberately NOT
// overlaid from file.
type fileOverlay struct {
	StreamingMode          *string `yaml:"streaming_mode"`
	FailureThreshold       *int32  `yaml:"failure_threshold"`
	SwitchOnUses           *int32  `yaml:"switch_on_uses"`
	MaxRetries             *int    `yaml:"max_retries"`
	RetryDelayMS           *int    `yaml:"retry_delay_ms"`
	ResumeOnProhibit       *bool   `yaml:"resume_on_prohibit"`
	ResumeLimit            *int    `yaml:"resume_limit"`
	ReasoningEnabled       *bool   `yaml:"reasoning_enabled"`
	NativeReasoningEnabled *bool   `yaml:"native_reasoning_enabled"`
	Debug                  *bool   `yaml:"debug"`
	RateLimitRPS           *int    `yaml:"rate_limit_rps"`
	RateLimitBurst         *int    `yaml:"rate_limit_burst"`
}

// ApplyFile overlays config.yaml at path onto cfg, if the file exists.
// A missing file is not an error; a malformed file is.
func ApplyFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	applyOverlay(cfg, &overlay)
	return nil
}

func applyOverlay(cfg *Config, overlay *fileOverlay) {
	if overlay.StreamingMode != nil {
		cfg.StreamingMode = *overlay.StreamingMode
	}
	if overlay.FailureThreshold != nil {
		cfg.FailureThreshold = *overlay.FailureThreshold
	}
	if overlay.SwitchOnUses != nil {
		cfg.SwitchOnUses = *overlay.SwitchOnUses
	}
	if overlay.MaxRetries != nil {
		cfg.MaxRetries = *overlay.MaxRetries
	}
	if overlay.RetryDelayMS != nil {
		cfg.RetryDelay = time.Duration(*overlay.RetryDelayMS) * time.Millisecond
	}
	if overlay.ResumeOnProhibit != nil {
		cfg.ResumeOnProhibit = *overlay.ResumeOnProhibit
	}
	if overlay.ResumeLimit != nil {
		cfg.ResumeLimit = *overlay.ResumeLimit
	}
	if overlay.ReasoningEnabled != nil {
		cfg.ReasoningEnabled = *overlay.ReasoningEnabled
	}
	if overlay.NativeReasoningEnabled != nil {
		cfg.NativeReasoningEnabled = *overlay.NativeReasoningEnabled
	}
	if overlay.Debug != nil {
		cfg.Debug = *overlay.Debug
	}
	if overlay.RateLimitRPS != nil {
		cfg.RateLimitRPS = *overlay.RateLimitRPS
	}
	if overlay.RateLimitBurst != nil {
		cfg.RateLimitBurst = *overlay.RateLimitBurst
	}
}

// Load resolves configuration with precedence env > file > built-in
// defaults: start from Default(), overlay config.yaml if present, then
// apply environment variables so they always win as the authoritative
// configuration source.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()
	if err := ApplyFile(cfg, yamlPath); err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}
