package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mezonai/mmn-plasma/amount"
	"github.com/mezonai/mmn-plasma/errors"
	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/transaction"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// OperatorConfig locates the operator API
type OperatorConfig struct {
	Endpoint       string        `yaml:"endpoint" ini:"endpoint"`
	RequestTimeout time.Duration `yaml:"request_timeout" ini:"request_timeout"`
}

type BatchConfig struct {
	// MaxInFlight bounds concurrent submissions
	MaxInFlight int `yaml:"max_in_flight" ini:"max_in_flight"`
	// SubmitRate is the submissions per second, 0 for unlimited
	SubmitRate float64 `yaml:"submit_rate" ini:"submit_rate"`
	SubmitBurst int    `yaml:"submit_burst" ini:"submit_burst"`
	// MaxNonces is how many nonces one batch may consume
	MaxNonces int `yaml:"max_nonces" ini:"max_nonces"`
	// SubmitTimeout bounds one submission, 0 for none
	SubmitTimeout   time.Duration `yaml:"submit_timeout" ini:"submit_timeout"`
	ValidUntilBlock uint32        `yaml:"valid_until_block" ini:"valid_until_block"`
}

// EncodingConfig holds bit widths. ini cannot map uint8, so they are ints
// here and narrowed by Layout.
type EncodingConfig struct {
	AccountIDBits  int `yaml:"account_id_bits" ini:"account_id_bits"`
	NonceBits      int `yaml:"nonce_bits" ini:"nonce_bits"`
	BlockBits      int `yaml:"block_bits" ini:"block_bits"`
	AmountMantissa int `yaml:"amount_mantissa_bits" ini:"amount_mantissa_bits"`
	AmountExponent int `yaml:"amount_exponent_bits" ini:"amount_exponent_bits"`
	FeeMantissa    int `yaml:"fee_mantissa_bits" ini:"fee_mantissa_bits"`
	FeeExponent    int `yaml:"fee_exponent_bits" ini:"fee_exponent_bits"`
}

type LogConfig struct {
	File       string `yaml:"file" ini:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" ini:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days" ini:"max_age_days"`
	MaxBackups int    `yaml:"max_backups" ini:"max_backups"`
	Stdout     bool   `yaml:"stdout" ini:"stdout"`
	Level      string `yaml:"level" ini:"level"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" ini:"enabled"`
	ListenAddr string `yaml:"listen_addr" ini:"listen_addr"`
}

// Config is the client configuration. It never holds key material: keys are
// passed to the sequencer by the caller.
type Config struct {
	Operator OperatorConfig `yaml:"operator" ini:"operator"`
	Batch    BatchConfig    `yaml:"batch" ini:"batch"`
	Encoding EncodingConfig `yaml:"encoding" ini:"encoding"`
	Log      LogConfig      `yaml:"log" ini:"log"`
	Metrics  MetricsConfig  `yaml:"metrics" ini:"metrics"`
}

// ConfigFile is the top-level structure of a YAML config
type ConfigFile struct {
	Config Config `yaml:"config"`
}

func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxInFlight:     8,
		SubmitRate:      0,
		SubmitBurst:     1,
		MaxNonces:       1 << 16,
		SubmitTimeout:   10 * time.Second,
		ValidUntilBlock: 100,
	}
}

func DefaultEncodingConfig() EncodingConfig {
	l := transaction.DefaultLayout()
	return EncodingConfig{
		AccountIDBits:  int(l.AccountIDBits),
		NonceBits:      int(l.NonceBits),
		BlockBits:      int(l.BlockBits),
		AmountMantissa: int(l.Amount.MantissaBits),
		AmountExponent: int(l.Amount.ExponentBits),
		FeeMantissa:    int(l.Fee.MantissaBits),
		FeeExponent:    int(l.Fee.ExponentBits),
	}
}

func Default() *Config {
	return &Config{
		Operator: OperatorConfig{
			Endpoint:       "http://127.0.0.1:8080",
			RequestTimeout: 10 * time.Second,
		},
		Batch:    DefaultBatchConfig(),
		Encoding: DefaultEncodingConfig(),
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxAgeDays: 7,
			Level:      "info",
		},
		Metrics: MetricsConfig{ListenAddr: ":9100"},
	}
}

// Layout converts the encoding section into a transaction layout. Widths
// outside [0, 255] become 0, which Layout.Validate rejects.
func (e EncodingConfig) Layout() transaction.Layout {
	return transaction.Layout{
		AccountIDBits: width(e.AccountIDBits),
		NonceBits:     width(e.NonceBits),
		BlockBits:     width(e.BlockBits),
		Amount:        amount.Format{MantissaBits: width(e.AmountMantissa), ExponentBits: width(e.AmountExponent)},
		Fee:           amount.Format{MantissaBits: width(e.FeeMantissa), ExponentBits: width(e.FeeExponent)},
	}
}

func width(v int) uint8 {
	if v < 0 || v > 255 {
		return 0
	}
	return uint8(v)
}

func (l LogConfig) Options() logx.Options {
	return logx.Options{
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxAgeDays: l.MaxAgeDays,
		MaxBackups: l.MaxBackups,
		Stdout:     l.Stdout,
		Level:      l.Level,
	}
}

func (b BatchConfig) Validate() error {
	if b.MaxInFlight <= 0 {
		return errors.InvalidConfig("batch.max_in_flight", "must be positive")
	}
	if b.SubmitRate < 0 {
		return errors.InvalidConfig("batch.submit_rate", "must not be negative")
	}
	if b.SubmitRate > 0 && b.SubmitBurst <= 0 {
		return errors.InvalidConfig("batch.submit_burst", "must be positive when submit_rate is set")
	}
	if b.MaxNonces <= 0 {
		return errors.InvalidConfig("batch.max_nonces", "must be positive")
	}
	if b.SubmitTimeout < 0 {
		return errors.InvalidConfig("batch.submit_timeout", "must not be negative")
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Operator.Endpoint) == "" {
		return errors.InvalidConfig("operator.endpoint", "must be set")
	}
	if c.Operator.RequestTimeout < 0 {
		return errors.InvalidConfig("operator.request_timeout", "must not be negative")
	}
	if err := c.Batch.Validate(); err != nil {
		return err
	}
	if err := c.Encoding.Layout().Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return errors.InvalidConfig("metrics.listen_addr", "must be set when metrics are enabled")
	}
	return nil
}

// Load reads a .yml/.yaml or .ini file over the defaults and validates it
func Load(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		cfg, err = LoadYAML(path)
	case ".ini":
		cfg, err = LoadINI(path)
	default:
		return nil, errors.InvalidConfig("path", "unsupported config format: "+path)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadYAML(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer file.Close()

	cfgFile := ConfigFile{Config: *Default()}
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, errors.Wrap(err, "decode yaml config")
	}
	return &cfgFile.Config, nil
}

// LoadINI maps the [operator], [batch], [encoding], [log] and [metrics]
// sections; missing sections keep their defaults
func LoadINI(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrap(err, "load ini config")
	}
	cfg := Default()
	sections := []struct {
		name string
		dst  interface{}
	}{
		{"operator", &cfg.Operator},
		{"batch", &cfg.Batch},
		{"encoding", &cfg.Encoding},
		{"log", &cfg.Log},
		{"metrics", &cfg.Metrics},
	}
	for _, s := range sections {
		if !file.HasSection(s.name) {
			continue
		}
		if err := file.Section(s.name).MapTo(s.dst); err != nil {
			return nil, errors.Wrapf(err, "map [%s]", s.name)
		}
	}
	return cfg, nil
}
