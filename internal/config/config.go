package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"taskdeck/internal/tasks"
)

const (
	DefaultConfigFileName = "config.toml"
	DefaultDBName         = "tasks.db"
	DefaultLogName        = "taskdeck.log"
	appDirName            = "taskdeck"
)

type Keymap struct {
	Quit           string `toml:"quit"`
	Add            string `toml:"add"`
	Up             string `toml:"up"`
	Down           string `toml:"down"`
	MoveUp         string `toml:"move_up"`
	MoveDown       string `toml:"move_down"`
	Toggle         string `toml:"toggle"`
	Delete         string `toml:"delete"`
	Edit           string `toml:"edit"`
	Confirm        string `toml:"confirm"`
	Cancel         string `toml:"cancel"`
	Search         string `toml:"search"`
	Filter         string `toml:"filter"`
	ClearCompleted string `toml:"clear_completed"`
	Renormalize    string `toml:"renormalize"`
	Theme          string `toml:"theme"`
	Retry          string `toml:"retry"`
}

type Server struct {
	ListenAddr string `toml:"listen_addr"`
	RedisURL   string `toml:"redis_url"`
	Channel    string `toml:"channel"`
}

type Config struct {
	DBPath          string `toml:"db_path"`
	DefaultFilter   string `toml:"default_filter"`
	Theme           string `toml:"theme"`
	RemoteURL       string `toml:"remote_url"`
	Token           string `toml:"token"`
	LoadTimeout     string `toml:"load_timeout"`
	MutationTimeout string `toml:"mutation_timeout"`
	NoticeDuration  string `toml:"notice_duration"`
	ProbeURL        string `toml:"probe_url"`
	ProbeInterval   string `toml:"probe_interval"`
	LogPath         string `toml:"log_path"`
	LogLevel        string `toml:"log_level"`
	Server          Server `toml:"server"`
	Keys            Keymap `toml:"keys"`
}

// ResolveConfigPath returns $XDG_CONFIG_HOME/taskdeck/config.toml, falling
// back to ~/.config and finally to the working directory.
func ResolveConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDirName, DefaultConfigFileName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appDirName, DefaultConfigFileName)
	}
	return DefaultConfigFileName
}

func LoadOrCreate(path string) (Config, error) {
	cfg := defaultConfig(filepath.Dir(path))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := write(path, cfg); err != nil {
			return cfg, err
		}
		applyEnv(&cfg)
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(path), DefaultDBName)
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("TASKDECK_DB"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("TASKDECK_REMOTE"); ok {
		cfg.RemoteURL = v
	}
	if v, ok := os.LookupEnv("TASKDECK_TOKEN"); ok {
		cfg.Token = v
	}
	if v, ok := os.LookupEnv("TASKDECK_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
}

// Validate reports the first field that cannot be used.
func (c Config) Validate() error {
	if _, err := tasks.ParseStatus(c.DefaultFilter); err != nil {
		return fmt.Errorf("default_filter: %w", err)
	}
	switch strings.ToLower(c.Theme) {
	case "", "light", "dark":
	default:
		return fmt.Errorf("theme: unknown theme %q", c.Theme)
	}
	for name, v := range map[string]string{
		"load_timeout":     c.LoadTimeout,
		"mutation_timeout": c.MutationTimeout,
		"notice_duration":  c.NoticeDuration,
		"probe_interval":   c.ProbeInterval,
	} {
		if _, err := parseDuration(v, time.Second); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (c Config) Filter() tasks.Status {
	s, _ := tasks.ParseStatus(c.DefaultFilter)
	return s
}

func (c Config) LoadTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.LoadTimeout, 10*time.Second)
	return d
}

func (c Config) MutationTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.MutationTimeout, 10*time.Second)
	return d
}

func (c Config) NoticeDurationValue() time.Duration {
	d, _ := parseDuration(c.NoticeDuration, 3*time.Second)
	return d
}

func (c Config) ProbeIntervalDuration() time.Duration {
	d, _ := parseDuration(c.ProbeInterval, 5*time.Second)
	return d
}

func parseDuration(v string, fallback time.Duration) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, err
	}
	if d <= 0 {
		return fallback, fmt.Errorf("duration must be positive, got %s", v)
	}
	return d, nil
}

func defaultConfig(dir string) Config {
	return Config{
		DBPath:          filepath.Join(dir, DefaultDBName),
		DefaultFilter:   "all",
		Theme:           "dark",
		LoadTimeout:     "10s",
		MutationTimeout: "10s",
		NoticeDuration:  "3s",
		ProbeInterval:   "5s",
		LogPath:         filepath.Join(dir, DefaultLogName),
		LogLevel:        "info",
		Server: Server{
			ListenAddr: ":8080",
			Channel:    "taskdeck-updates",
		},
		Keys: Keymap{
			Quit:           "q",
			Add:            "a",
			Up:             "k",
			Down:           "j",
			MoveUp:         "K",
			MoveDown:       "J",
			Toggle:         " ",
			Delete:         "d",
			Edit:           "e",
			Confirm:        "enter",
			Cancel:         "esc",
			Search:         "/",
			Filter:         "f",
			ClearCompleted: "C",
			Renormalize:    "N",
			Theme:          "t",
			Retry:          "r",
		},
	}
}
