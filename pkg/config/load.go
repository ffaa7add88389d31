package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the janitor reads.
const EnvPrefix = "CJ"

// FileName is looked for in the home directory when no file is given.
const FileName = "cj.yaml"

// listPaths are input paths whose values are lists even when they arrive
// as a single environment string.
var listPaths = map[string]struct{}{
	"aws.nuke_blocklist": {},
}

// Options controls where configuration is read from.
type Options struct {
	// File is an explicit configuration file. It must exist.
	File string

	// Overrides take precedence over every other source.
	Overrides map[string]any
}

// Loaded is a validated configuration together with the raw tree that
// backs input lookups.
type Loaded struct {
	*Config
	v    *viper.Viper
	file string
}

// Load reads and validates the configuration.
func Load(opts Options) (*Loaded, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	file, err := readFile(v, opts.File)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Home = expandHome(cfg.Home)
	cfg.Remote.KeyPath = expandHome(cfg.Remote.KeyPath)
	cfg.Remote.KnownHosts = expandHome(cfg.Remote.KnownHosts)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &Loaded{Config: &cfg, v: v, file: file}, nil
}

// readFile returns the file that was read, if any. Only an explicit file
// is required to exist.
func readFile(v *viper.Viper, file string) (string, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		return file, nil
	}

	file = filepath.Join(expandHome(v.GetString("home")), FileName)
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config file: %w", err)
	}
	return file, nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Lookup implements engine.ConfigSource. Unset and empty values are
// reported as absent so the default tier applies.
func (l *Loaded) Lookup(path string) (any, bool) {
	if !l.v.IsSet(path) {
		return nil, false
	}
	if _, ok := listPaths[path]; ok {
		list := l.v.GetStringSlice(path)
		return list, len(list) > 0
	}

	value := l.v.Get(path)
	switch x := value.(type) {
	case nil:
		return nil, false
	case string:
		return x, x != ""
	}
	return value, true
}

// Set overrides a single value after loading.
func (l *Loaded) Set(path string, value any) {
	l.v.Set(path, value)
}

// File returns the configuration file in use, if any was read.
func (l *Loaded) File() string {
	return l.file
}
