package app

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Blackdeer1524/txkernel/src/bufferpool"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	envPrefix  = "TXKERNEL"
	dotEnvFile = ".env"

	minBlockSize = 64
)

// Duration lets TOML files and environment variables spell durations as
// "10s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Environment string `toml:"environment" envconfig:"ENVIRONMENT"`

	Dir           string   `toml:"dir"             envconfig:"DIR"`
	BlockSize     int      `toml:"block-size"      envconfig:"BLOCK_SIZE"`
	BufferCount   int      `toml:"buffer-count"    envconfig:"BUFFER_COUNT"`
	LogFile       string   `toml:"log-file"        envconfig:"LOG_FILE"`
	BufferMaxWait Duration `toml:"buffer-max-wait" envconfig:"BUFFER_MAX_WAIT"`
	LockMaxWait   Duration `toml:"lock-max-wait"   envconfig:"LOCK_MAX_WAIT"`
	Replacer      string   `toml:"replacer"        envconfig:"REPLACER"`
	RecoverOnOpen bool     `toml:"recover-on-open" envconfig:"RECOVER_ON_OPEN"`

	LogLevel      string `toml:"log-level"       envconfig:"LOG_LEVEL"`
	LogFormat     string `toml:"log-format"      envconfig:"LOG_FORMAT"`
	LogOutput     string `toml:"log-output"      envconfig:"LOG_OUTPUT"`
	LogMaxSizeMB  int    `toml:"log-max-size-mb" envconfig:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `toml:"log-max-backups" envconfig:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `toml:"log-max-age"     envconfig:"LOG_MAX_AGE"`
}

func DefaultConfig() Config {
	return Config{
		Environment:   EnvProd,
		Dir:           "data",
		BlockSize:     400,
		BufferCount:   8,
		LogFile:       "simpledb.log",
		BufferMaxWait: Duration{10 * time.Second},
		LockMaxWait:   Duration{10 * time.Second},
		Replacer:      bufferpool.ReplacerNaive,
		RecoverOnOpen: true,
		LogLevel:      "info",
		LogFormat:     "json",
		LogOutput:     "stderr",
		LogMaxSizeMB:  100,
		LogMaxBackups: 3,
		LogMaxAgeDays: 28,
	}
}

// LoadConfig starts from the defaults, applies the TOML file at path (if
// any), then environment variables prefixed with TXKERNEL_. A .env file in
// the working directory is loaded into the environment first; variables
// that are already set win over it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", dotEnvFile, err)
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var err error

	if c.Environment != EnvDev && c.Environment != EnvProd {
		err = errors.Join(err, fmt.Errorf("unknown environment %q", c.Environment))
	}
	if c.Dir == "" {
		err = errors.Join(err, errors.New("database directory is not set"))
	}
	if c.BlockSize < minBlockSize {
		err = errors.Join(err, fmt.Errorf("block size %d is less than %d", c.BlockSize, minBlockSize))
	}
	if c.BufferCount <= 0 {
		err = errors.Join(err, fmt.Errorf("buffer count must be positive, got %d", c.BufferCount))
	}
	if c.LogFile == "" || filepath.Base(c.LogFile) != c.LogFile {
		err = errors.Join(err, fmt.Errorf("log file %q must be a plain file name", c.LogFile))
	}
	if c.BufferMaxWait.Duration <= 0 {
		err = errors.Join(err, fmt.Errorf("buffer max wait must be positive, got %s", c.BufferMaxWait))
	}
	if c.LockMaxWait.Duration <= 0 {
		err = errors.Join(err, fmt.Errorf("lock max wait must be positive, got %s", c.LockMaxWait))
	}
	if c.Replacer != bufferpool.ReplacerNaive && c.Replacer != bufferpool.ReplacerLRU {
		err = errors.Join(err, fmt.Errorf("unknown replacer %q", c.Replacer))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		err = errors.Join(err, fmt.Errorf("unknown log format %q", c.LogFormat))
	}

	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
