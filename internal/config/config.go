package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the optional unbox configuration file.
type Config struct {
	Defaults DefaultsConfig `toml:"defaults"`
	Filter   FilterConfig   `toml:"filter"`
}

// DefaultsConfig holds persistent flag defaults. A nil field means the key
// was absent and the built-in default applies.
type DefaultsConfig struct {
	Owner          *bool   `toml:"owner"`
	Perm           *bool   `toml:"perm"`
	ACLs           *bool   `toml:"acls"`
	Xattrs         *bool   `toml:"xattrs"`
	Fflags         *bool   `toml:"fflags"`
	NoOverwrite    *bool   `toml:"no_overwrite"`
	KeepNewer      *bool   `toml:"keep_newer"`
	SecureSymlinks *bool   `toml:"secure_symlinks"`
	SecureNoDotDot *bool   `toml:"secure_nodotdot"`
	SafeWrites     *bool   `toml:"safe_writes"`
	Verify         *bool   `toml:"verify"`
	NumericOwner   *bool   `toml:"numeric_owner"`
	BWLimit        *string `toml:"bwlimit"`
}

// FilterConfig holds patterns prepended to the command-line filter rules.
type FilterConfig struct {
	Exclude []string `toml:"exclude"`
	Include []string `toml:"include"`
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "unbox", "config.toml")
}

// Load reads the config file from the XDG path. Returns a zero Config
// (no error) if the file does not exist. Config is always optional.
func Load() (Config, error) {
	path := Path()
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads the config at path. A missing file yields a zero Config;
// unknown keys are an error so typos do not pass silently.
func LoadFile(path string) (Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}
