package config

import (
	"errors"
	"fmt"
	"time"
)

func (c *Config) validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	db := c.Database
	check(db.Driver == "postgres" || db.Driver == "sqlite",
		"database.driver must be postgres or sqlite, got %q", db.Driver)
	check(db.MaxOpenConns > 0, "database.max_open_conns must be positive")
	check(db.MaxIdleConns >= 0, "database.max_idle_conns cannot be negative")
	check(db.MaxIdleConns <= db.MaxOpenConns,
		"database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)", db.MaxIdleConns, db.MaxOpenConns)

	s := c.Settlement
	check(s.Workers > 0, "settlement.workers must be positive")
	check(s.RunTimeout > 0, "settlement.run_timeout must be positive")
	check(s.LargeDeductionThreshold >= 0, "settlement.large_deduction_threshold cannot be negative")
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("settlement.timezone %q is invalid: %w", s.Timezone, err))
	}

	check(c.Telemetry.SamplingRatio >= 0 && c.Telemetry.SamplingRatio <= 1,
		"telemetry.sampling_ratio must be between 0.0 and 1.0, got %g", c.Telemetry.SamplingRatio)

	if c.App.Env == "production" {
		check(len(c.JWT.Secret) >= 32, "jwt.secret must be at least 32 characters in production")
		check(db.Driver == "postgres", "database.driver must be postgres in production")
		check(db.Password != "", "database.password is required in production")
		check(db.SSLMode != "disable", "database.sslmode cannot be 'disable' in production")
		check(!c.Telemetry.DBLogFullSQL, "telemetry.db_log_full_sql must be false in production")
	}

	return errors.Join(errs...)
}
