package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// SpiceConfig mirrors the [spice] section of the configuration file.
type SpiceConfig struct {
	Display           string `mapstructure:"display"`
	Listen            string `mapstructure:"listen"`
	Timeout           int    `mapstructure:"timeout"`
	Minimize          bool   `mapstructure:"minimize"`
	AllowControl      bool   `mapstructure:"allow-control"`
	GeneratePassword  int    `mapstructure:"generate-password"` // 0 disables, >0 is the length
	Hide              bool   `mapstructure:"hide"`
	Password          string `mapstructure:"password"`
	PasswordFile      string `mapstructure:"password-file"`
	DisableTicketing  bool   `mapstructure:"disable-ticketing"`
	ExitOnDisconnect  bool   `mapstructure:"exit-on-disconnect"`
	VirtioPath        string `mapstructure:"virtio-path"`
	UinputPath        string `mapstructure:"uinput-path"`
	OnConnect         string `mapstructure:"on-connect"`
	OnDisconnect      string `mapstructure:"on-disconnect"`
	Audit             bool   `mapstructure:"audit"`
	AuditMessageType  string `mapstructure:"audit-message-type"`
	AlwaysTrustDamage string `mapstructure:"always-trust-damage"` // auto, always, never
}

// SSLConfig mirrors the [ssl] section of the configuration file.
type SSLConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CACertFile      string `mapstructure:"ca-cert-file"`
	CertsFile       string `mapstructure:"certs-file"`
	PrivateKeyFile  string `mapstructure:"private-key-file"`
	KeyPasswordFile string `mapstructure:"key-password-file"`
	DHKeyFile       string `mapstructure:"dh-key-file"`
	Ciphersuite     string `mapstructure:"ciphersuite"`
}

type Config struct {
	Spice SpiceConfig `mapstructure:"spice"`
	SSL   SSLConfig   `mapstructure:"ssl"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Spice: SpiceConfig{
			Listen:            "5900",
			AllowControl:      true,
			AlwaysTrustDamage: "auto",
		},
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

// Load reads the sectioned INI configuration. With an explicit cfgFile it
// is the sole source. Otherwise the system config directory is read first
// and the user config directory is merged on top, so user values win
// (spec §6).
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigType("ini")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigFile(filepath.Join(systemConfigDir(), "x11spice.conf"))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr != nil && !os.IsNotExist(statErr) {
				return nil, err
			}
		}

		v.SetConfigFile(filepath.Join(userConfigDir(), "x11spice.conf"))
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
					return nil, err
				}
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// userConfigDir returns the platform-specific per-user config directory.
func userConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "x11spice")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "x11spice")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "x11spice")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "x11spice")
	}
}

// systemConfigDir returns the platform-specific system-wide config directory.
func systemConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "x11spice")
	default:
		return "/etc/x11spice"
	}
}
