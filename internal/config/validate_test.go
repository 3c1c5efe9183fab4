package config

import (
	"testing"
)

func TestValidateTieredMultiplePasswordOptionsIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Spice.Password = "secret"
	cfg.Spice.PasswordFile = "/etc/x11spice/pw"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("password + password-file should be fatal")
	}
}

func TestValidateTieredGeneratePasswordAloneIsFine(t *testing.T) {
	cfg := Default()
	cfg.Spice.GeneratePassword = 8
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("generate-password alone should not be fatal: %v", result.Fatals)
	}
}

func TestValidateTieredBadListenSpecIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Spice.Listen = "localhost:abc"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("non-numeric port should be fatal")
	}
}

func TestValidateTieredNegativeTimeoutIsWarning(t *testing.T) {
	cfg := Default()
	cfg.Spice.Timeout = -5
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("negative timeout should be a warning, not fatal: %v", result.Fatals)
	}
	if cfg.Spice.Timeout != 0 {
		t.Fatalf("Timeout = %d, want 0 (clamped)", cfg.Spice.Timeout)
	}
}

func TestValidateTieredUnknownTrustModeDefaultsToAuto(t *testing.T) {
	cfg := Default()
	cfg.Spice.AlwaysTrustDamage = "sometimes"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown trust mode should not be fatal")
	}
	if cfg.Spice.AlwaysTrustDamage != "auto" {
		t.Fatalf("AlwaysTrustDamage = %q, want auto", cfg.Spice.AlwaysTrustDamage)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
}

func TestValidateTieredSSLEnabledWithoutCertsIsFatal(t *testing.T) {
	cfg := Default()
	cfg.SSL.Enabled = true
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("ssl.enabled without certs-file/private-key-file should be fatal")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.fatal("test error")
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.Spice.Listen = "host:bad"  // fatal
	cfg.LogFormat = "xml"          // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	cfg.Spice.GeneratePassword = 8
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}

func TestValidateTicketingRequiresAuthPath(t *testing.T) {
	cfg := Default()
	if err := ValidateTicketing(cfg); err == nil {
		t.Fatal("expected error when no password/disable-ticketing is configured")
	}

	cfg.Spice.DisableTicketing = true
	if err := ValidateTicketing(cfg); err != nil {
		t.Fatalf("disable-ticketing alone should satisfy the impossible-config rule: %v", err)
	}
}

func TestParseListenSpec(t *testing.T) {
	cases := []struct {
		spec       string
		host       string
		start, end int
	}{
		{"5900", "", 5900, 5900},
		{":5901", "", 5901, 5901},
		{"localhost:5900-5910", "localhost", 5900, 5910},
		{"0.0.0.0:5900", "0.0.0.0", 5900, 5900},
	}
	for _, c := range cases {
		host, ports, err := ParseListenSpec(c.spec)
		if err != nil {
			t.Fatalf("ParseListenSpec(%q): %v", c.spec, err)
		}
		if host != c.host || ports[0] != c.start || ports[1] != c.end {
			t.Fatalf("ParseListenSpec(%q) = (%q, %v), want (%q, [%d %d])", c.spec, host, ports, c.host, c.start, c.end)
		}
	}

	if _, _, err := ParseListenSpec("host:9000-8000"); err == nil {
		t.Fatal("expected error for inverted port range")
	}
}
