package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "TWILIFY_"

var envKeys = map[string]string{
	EnvPrefix + "OKTA_TOKEN":               KeyOktaToken,
	EnvPrefix + "OKTA_ORG_URL":             KeyOktaOrgURL,
	EnvPrefix + "TWILIO_ACCOUNT_SID":       KeyTwilioAccountSID,
	EnvPrefix + "TWILIO_AUTH_TOKEN":        KeyTwilioAuthToken,
	EnvPrefix + "PREFIX":                   KeyPrefix,
	EnvPrefix + "TWILIO_FUNCTION_BASE_URL": KeyTwilioFunctionBaseURL,
	EnvPrefix + "REGION":                   KeyRegion,
}

// Prompter asks the operator for a single setting.
type Prompter interface {
	Prompt(p Param) (string, error)
}

// Store reads and writes the config file at a fixed path.
type Store struct {
	path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// Initialize prompts for every required setting and overwrites the config
// file with the answers.
func (s *Store) Initialize(p Prompter) (*Config, error) {
	if p == nil {
		return nil, &Error{Op: "init", Path: s.path, Err: errors.New("no prompter configured")}
	}
	cfg := &Config{}
	for _, param := range Params {
		answer, err := p.Prompt(param)
		if err != nil {
			return nil, &Error{Op: "init", Path: s.path, Err: fmt.Errorf("prompt %s: %w", param.Name, err)}
		}
		cfg.Set(param.Name, answer)
	}
	cfg.trim()
	if err := s.Save(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as indented JSON, creating parent directories.
func (s *Store) Save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return &Error{Op: "save", Path: s.path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return &Error{Op: "save", Path: s.path, Err: err}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return &Error{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Load reads the config file and layers TWILIFY_* environment variables and
// then overrides on top. Empty override values never replace stored ones.
func (s *Store) Load(overrides map[string]string) (*Config, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Op: "load", Path: s.path, Err: ErrNotFound}
		}
		return nil, &Error{Op: "load", Path: s.path, Err: err}
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Config{}, "koanf"), nil); err != nil {
		return nil, &Error{Op: "load", Path: s.path, Err: fmt.Errorf("defaults: %w", err)}
	}
	if err := k.Load(file.Provider(s.path), kjson.Parser()); err != nil {
		return nil, &Error{Op: "load", Path: s.path, Err: err}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		name, ok := envKeys[key]
		if !ok || value == "" {
			return "", nil
		}
		return name, value
	}), nil); err != nil {
		return nil, &Error{Op: "load", Path: s.path, Err: fmt.Errorf("environment: %w", err)}
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		if err := k.Set(key, value); err != nil {
			return nil, &Error{Op: "load", Path: s.path, Err: fmt.Errorf("override %s: %w", key, err)}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &Error{Op: "load", Path: s.path, Err: err}
	}
	cfg.trim()
	return &cfg, nil
}

// LoadDotEnv exports variables from the given .env files (default ".env").
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("config: load dotenv: %w", err)
	}
	return nil
}
