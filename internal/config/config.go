package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath              = "config/vidsight.yaml"
	DefaultAPIURL            = "http://localhost:8000"
	DefaultJobStatusInterval = 5 * time.Second
	DefaultJobLogsInterval   = 3 * time.Second
	DefaultStreamStatus      = 5 * time.Second
	DefaultStreamLogs        = 10 * time.Second
	DefaultSoftTimeout       = 5 * time.Second
	DefaultRetryDelay        = 500 * time.Millisecond
	DefaultLogLevel          = "info"
)

// Environment overrides, applied after the YAML file.
const (
	EnvAPIURL       = "VIDSIGHT_API_URL"
	EnvToken        = "VIDSIGHT_TOKEN"
	EnvLogLevel     = "VIDSIGHT_LOG_LEVEL"
	EnvPlayer       = "VIDSIGHT_PLAYER"
	EnvLegacyAPIURL = "REACT_APP_API_URL"
)

type Config struct {
	APIURL         string        `yaml:"api_url"`
	Token          string        `yaml:"token,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Poll           PollConfig    `yaml:"poll"`
	Player         PlayerConfig  `yaml:"player"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file,omitempty"`
	MetricsAddr    string        `yaml:"metrics_addr,omitempty"`
}

type PollConfig struct {
	JobStatus    time.Duration `yaml:"job_status"`
	JobLogs      time.Duration `yaml:"job_logs"`
	StreamStatus time.Duration `yaml:"stream_status"`
	StreamLogs   time.Duration `yaml:"stream_logs"`
}

type PlayerConfig struct {
	Binaries    []string            `yaml:"binaries"`
	Args        map[string][]string `yaml:"args,omitempty"`
	SoftTimeout time.Duration       `yaml:"soft_timeout"`
	RetryDelay  time.Duration       `yaml:"retry_delay"`
}

func Default() Config {
	return Config{
		APIURL: DefaultAPIURL,
		Poll: PollConfig{
			JobStatus:    DefaultJobStatusInterval,
			JobLogs:      DefaultJobLogsInterval,
			StreamStatus: DefaultStreamStatus,
			StreamLogs:   DefaultStreamLogs,
		},
		Player: PlayerConfig{
			Binaries:    DefaultBinaries(),
			Args:        DefaultPlayerArgs(),
			SoftTimeout: DefaultSoftTimeout,
			RetryDelay:  DefaultRetryDelay,
		},
		LogLevel: DefaultLogLevel,
	}
}

func DefaultBinaries() []string {
	return []string{"mpv", "ffplay", "vlc"}
}

func DefaultPlayerArgs() map[string][]string {
	return map[string][]string{
		"mpv":    {"--term-playing-msg=VIDSIGHT_PLAYING", "--force-window=yes"},
		"ffplay": {"-autoexit", "-loglevel", "info", "-stats"},
		"vlc":    {"--play-and-exit", "-v"},
	}
}

// LoadDotEnv loads .env files into the process environment. Missing files are
// ignored and variables that are already set win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		_ = godotenv.Load()
		return
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Load reads path (or DefaultPath), applies environment overrides and
// normalizes the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	path = ResolvePath(path)
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return Normalize(cfg), nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func ResolvePath(path string) string {
	if p := strings.TrimSpace(path); p != "" {
		return p
	}
	return DefaultPath
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLegacyAPIURL)); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.APIURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvToken)); v != "" {
		cfg.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPlayer)); v != "" {
		cfg.Player.Binaries = strings.Split(v, ",")
	}
}

func Normalize(raw Config) Config {
	norm := raw
	norm.APIURL = strings.TrimRight(strings.TrimSpace(norm.APIURL), "/")
	if norm.APIURL == "" {
		norm.APIURL = DefaultAPIURL
	}
	norm.Token = strings.TrimSpace(norm.Token)
	if norm.RequestTimeout < 0 {
		norm.RequestTimeout = 0
	}

	norm.Poll.JobStatus = positiveOr(norm.Poll.JobStatus, DefaultJobStatusInterval)
	norm.Poll.JobLogs = positiveOr(norm.Poll.JobLogs, DefaultJobLogsInterval)
	norm.Poll.StreamStatus = positiveOr(norm.Poll.StreamStatus, DefaultStreamStatus)
	norm.Poll.StreamLogs = positiveOr(norm.Poll.StreamLogs, DefaultStreamLogs)

	norm.Player.Binaries = normalizeList(norm.Player.Binaries)
	if len(norm.Player.Binaries) == 0 {
		norm.Player.Binaries = DefaultBinaries()
	}
	if norm.Player.Args == nil {
		norm.Player.Args = map[string][]string{}
	}
	for name, args := range DefaultPlayerArgs() {
		if _, ok := norm.Player.Args[name]; !ok {
			norm.Player.Args[name] = args
		}
	}
	norm.Player.SoftTimeout = positiveOr(norm.Player.SoftTimeout, DefaultSoftTimeout)
	norm.Player.RetryDelay = positiveOr(norm.Player.RetryDelay, DefaultRetryDelay)

	switch strings.ToLower(strings.TrimSpace(norm.LogLevel)) {
	case "debug", "info", "warn", "warning", "error":
		norm.LogLevel = strings.ToLower(strings.TrimSpace(norm.LogLevel))
	default:
		norm.LogLevel = DefaultLogLevel
	}
	norm.LogFile = strings.TrimSpace(norm.LogFile)
	norm.MetricsAddr = strings.TrimSpace(norm.MetricsAddr)
	return norm
}

// Redacted hides the token for display.
func (c Config) Redacted() Config {
	out := c
	if out.Token != "" {
		out.Token = "********"
	}
	return out
}

func Marshal(cfg Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// Init writes the default config to path. It refuses to overwrite an
// existing file unless force is set.
func Init(path string, force bool) (string, error) {
	path = ResolvePath(path)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
	}
	data, err := Marshal(Default())
	if err != nil {
		return path, err
	}
	return path, WriteBytes(path, data)
}

func positiveOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func normalizeList(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, p := range raw {
		v := strings.TrimSpace(p)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
