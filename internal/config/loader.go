package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load builds and validates the process configuration.
//
// Sequence:
//  1. Enforce UTC as the process-local timezone. Every scheduling decision
//     in the pipeline is made in UTC or an explicit user zone; a stray
//     server timezone must never leak into date arithmetic.
//  2. Load a .env file if present (non-fatal if missing; never overrides
//     real environment variables).
//  3. Populate the Config struct from envconfig tags.
//  4. Validate struct tags plus the cross-field constraints envconfig
//     cannot express.
func Load() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	if _, _, err := ParseWallClock(cfg.Jobs.DiscoveryRunAtUTC); err != nil {
		return nil, fmt.Errorf("config: DISCOVERY_RUN_AT_UTC: %w", err)
	}
	if _, _, err := ParseWallClock(cfg.Jobs.DeliveryLocalTime); err != nil {
		return nil, fmt.Errorf("config: DELIVERY_LOCAL_TIME: %w", err)
	}
	if cfg.Jobs.RecoveryGrace <= cfg.Jobs.AdmissionInterval {
		return nil, fmt.Errorf("config: RECOVERY_GRACE (%s) must exceed ADMISSION_INTERVAL (%s)",
			cfg.Jobs.RecoveryGrace, cfg.Jobs.AdmissionInterval)
	}

	return &cfg, nil
}

// ParseWallClock parses an "HH:MM" wall-clock string into hour and minute
// components, rejecting out-of-range values.
func ParseWallClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid wall-clock time %q (want HH:MM): %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("wall-clock time %q out of range", s)
	}
	return hour, minute, nil
}
