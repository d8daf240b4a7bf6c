package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// envSource answers key lookups with precedence explicit map > process env > dotenv file.
type envSource struct {
	dotenv   map[string]string
	explicit map[string]string
	system   bool
}

func newEnvSource(options loaderOptions) (*envSource, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return &envSource{dotenv: dotenv, explicit: options.envMap, system: options.useSystemEnv}, nil
}

func (s *envSource) lookup(key string) (string, bool) {
	if value, ok := s.explicit[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	value, ok := s.dotenv[key]
	return value, ok
}

func (s *envSource) raw(key, fallback string) string {
	if value, ok := s.lookup(key); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func (s *envSource) str(key, fallback string) string {
	return strings.TrimSpace(s.raw(key, fallback))
}

func (s *envSource) duration(key string, fallback time.Duration) time.Duration {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
		return d
	}
	return fallback
}

func (s *envSource) integer(key string, fallback int) int {
	value, ok := s.lookup(key)
	if !ok {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return fallback
}

// pairs parses "key=value,key=value" lists. Keys are lower-cased; empty entries are skipped.
func (s *envSource) pairs(key string) map[string]string {
	out := make(map[string]string)
	value, ok := s.lookup(key)
	if !ok {
		return out
	}
	for _, entry := range strings.Split(value, ",") {
		name, val, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		val = strings.TrimSpace(val)
		if name == "" || val == "" {
			continue
		}
		out[name] = val
	}
	return out
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers use it to initialise the secret
// fetcher before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)

	values, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}

	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}
