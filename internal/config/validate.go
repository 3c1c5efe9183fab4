package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationResult separates fatal problems (block startup) from
// warnings (logged, startup continues), matching spec §7's split between
// argument errors and recoverable misconfiguration.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r *ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that just
// want to log everything found.
func (r *ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

var validTrustModes = map[string]bool{"auto": true, "always": true, "never": true}
var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// ValidateTiered checks the configuration for invalid values. Mutually
// exclusive password options and an invalid listen spec are fatal;
// everything else is a warning with a safe fallback applied in place.
func (c *Config) ValidateTiered() *ValidationResult {
	r := &ValidationResult{}

	passwordOpts := 0
	if c.Spice.Password != "" {
		passwordOpts++
	}
	if c.Spice.PasswordFile != "" {
		passwordOpts++
	}
	if c.Spice.GeneratePassword > 0 {
		passwordOpts++
	}
	if passwordOpts > 1 {
		r.fatal("at most one of password, password-file, generate-password may be set")
	}

	if c.Spice.Listen != "" {
		if _, _, err := ParseListenSpec(c.Spice.Listen); err != nil {
			r.fatal("listen spec %q is invalid: %w", c.Spice.Listen, err)
		}
	}

	if c.Spice.Timeout < 0 {
		r.warn("timeout %d is negative, clamping to 0", c.Spice.Timeout)
		c.Spice.Timeout = 0
	}

	if c.Spice.AlwaysTrustDamage == "" {
		c.Spice.AlwaysTrustDamage = "auto"
	} else if !validTrustModes[strings.ToLower(c.Spice.AlwaysTrustDamage)] {
		r.warn("always-trust-damage %q is not valid (use auto, always, never), defaulting to auto", c.Spice.AlwaysTrustDamage)
		c.Spice.AlwaysTrustDamage = "auto"
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.warn("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.warn("log_format %q is not valid (use text or json)", c.LogFormat)
	}

	if c.SSL.Enabled {
		if c.SSL.CertsFile == "" || c.SSL.PrivateKeyFile == "" {
			r.fatal("ssl.enabled requires certs-file and private-key-file")
		}
	}

	return r
}

// ErrImpossibleConfig is returned by ValidateTicketing when no password,
// password file, generate-password, or disable-ticketing is configured
// (spec §6 "impossible-config rule").
func ValidateTicketing(c *Config) error {
	if c.Spice.Password != "" || c.Spice.PasswordFile != "" || c.Spice.GeneratePassword > 0 || c.Spice.DisableTicketing {
		return nil
	}
	return fmt.Errorf("no password, password-file, generate-password, or disable-ticketing set: refusing to start with no client authentication path")
}

// ParseListenSpec parses "[host]:[start-port[-end-port]]" into a host and
// an inclusive port range. A bare number ("5900") is treated as a
// single-port range on all interfaces.
func ParseListenSpec(spec string) (host string, ports [2]int, err error) {
	if spec == "" {
		return "", [2]int{5900, 5900}, nil
	}

	portPart := spec
	if idx := strings.LastIndex(spec, ":"); idx >= 0 {
		host = spec[:idx]
		portPart = spec[idx+1:]
	}

	if portPart == "" {
		return host, [2]int{5900, 5900}, nil
	}

	if dash := strings.Index(portPart, "-"); dash >= 0 {
		start, e1 := strconv.Atoi(portPart[:dash])
		end, e2 := strconv.Atoi(portPart[dash+1:])
		if e1 != nil || e2 != nil {
			return "", [2]int{}, fmt.Errorf("invalid port range %q", portPart)
		}
		if end < start {
			return "", [2]int{}, fmt.Errorf("port range end %d before start %d", end, start)
		}
		return host, [2]int{start, end}, nil
	}

	p, err := strconv.Atoi(portPart)
	if err != nil {
		return "", [2]int{}, fmt.Errorf("invalid port %q", portPart)
	}
	return host, [2]int{p, p}, nil
}
