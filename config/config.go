// Package config loads the tcucfg run configuration from TOML and the optional
// parameter table override from YAML.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/LoveWonYoung/tcucfg/driver"
	"github.com/LoveWonYoung/tcucfg/tcuclient"
	"github.com/LoveWonYoung/tcucfg/tp_layer"
)

// Config is the complete run configuration.
type Config struct {
	Channel     string
	TTYBaudrate int
	Bitrate     int

	TxID         uint32
	RxID         uint32
	StMin        int
	BlockSize    int
	BlockingSend bool
	Padding      *byte

	SessionTimeout time.Duration
	ReadTimeout    time.Duration
	ReadAttempts   int
	WriteTimeout   time.Duration

	RegistryPath string
	LogDir       string
	LogLevel     string
	SnapshotKey  []byte
}

// Default returns the settings for a Lawicel CANUSB on a Leaf TCU. The unit
// struggles with back-to-back blocks, hence blocksize 1 and stmin 100 ms.
func Default() Config {
	return Config{
		TTYBaudrate:    921600,
		Bitrate:        500_000,
		TxID:           0x746,
		RxID:           0x783,
		StMin:          100,
		BlockSize:      1,
		BlockingSend:   true,
		SessionTimeout: 1 * time.Second,
		ReadTimeout:    7 * time.Second,
		ReadAttempts:   5,
		WriteTimeout:   2 * time.Second,
		LogLevel:       "info",
	}
}

type fileConfig struct {
	Channel        string `toml:"channel"`
	TTYBaudrate    int    `toml:"tty_baudrate"`
	Bitrate        int    `toml:"bitrate"`
	TxID           int64  `toml:"tx_id"`
	RxID           int64  `toml:"rx_id"`
	StMin          int    `toml:"stmin"`
	BlockSize      int    `toml:"blocksize"`
	BlockingSend   bool   `toml:"blocking_send"`
	Padding        int    `toml:"padding"`
	SessionTimeout string `toml:"session_timeout"`
	ReadTimeout    string `toml:"read_timeout"`
	ReadAttempts   int    `toml:"read_attempts"`
	WriteTimeout   string `toml:"write_timeout"`
	Registry       string `toml:"registry"`
	LogDir         string `toml:"log_dir"`
	LogLevel       string `toml:"log_level"`
	SnapshotKey    string `toml:"snapshot_key"`
}

// Load overlays the keys present in the TOML file at path onto Default().
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("tty_baudrate") {
		cfg.TTYBaudrate = raw.TTYBaudrate
	}
	if meta.IsDefined("bitrate") {
		cfg.Bitrate = raw.Bitrate
	}
	if meta.IsDefined("tx_id") {
		if raw.TxID < 0 || raw.TxID > 0x1FFFFFFF {
			return Config{}, fmt.Errorf("tx_id 0x%X out of range", raw.TxID)
		}
		cfg.TxID = uint32(raw.TxID)
	}
	if meta.IsDefined("rx_id") {
		if raw.RxID < 0 || raw.RxID > 0x1FFFFFFF {
			return Config{}, fmt.Errorf("rx_id 0x%X out of range", raw.RxID)
		}
		cfg.RxID = uint32(raw.RxID)
	}
	if meta.IsDefined("stmin") {
		cfg.StMin = raw.StMin
	}
	if meta.IsDefined("blocksize") {
		cfg.BlockSize = raw.BlockSize
	}
	if meta.IsDefined("blocking_send") {
		cfg.BlockingSend = raw.BlockingSend
	}
	if meta.IsDefined("padding") {
		// 负数表示不填充
		switch {
		case raw.Padding < 0:
			cfg.Padding = nil
		case raw.Padding > 0xFF:
			return Config{}, fmt.Errorf("padding 0x%X is not a byte", raw.Padding)
		default:
			b := byte(raw.Padding)
			cfg.Padding = &b
		}
	}

	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"session_timeout", raw.SessionTimeout, &cfg.SessionTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
	} {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("read_attempts") {
		cfg.ReadAttempts = raw.ReadAttempts
	}
	if meta.IsDefined("registry") {
		cfg.RegistryPath = strings.TrimSpace(raw.Registry)
	}
	if meta.IsDefined("log_dir") {
		cfg.LogDir = strings.TrimSpace(raw.LogDir)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("snapshot_key") {
		key, err := ParseKey(raw.SnapshotKey)
		if err != nil {
			return Config{}, fmt.Errorf("parse snapshot_key: %w", err)
		}
		cfg.SnapshotKey = key
	}

	return cfg, cfg.Validate()
}

// ParseKey decodes a hex AES key of 16, 24 or 32 bytes.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, fmt.Errorf("key length %d, want 16, 24 or 32 bytes", len(key))
}

// Validate checks the configuration before any device is opened.
func (c Config) Validate() error {
	if c.TTYBaudrate <= 0 {
		return fmt.Errorf("tty_baudrate %d must be positive", c.TTYBaudrate)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("bitrate %d must be positive", c.Bitrate)
	}
	if c.TxID == c.RxID {
		return errors.New("tx_id and rx_id must differ")
	}
	tpCfg := c.ISOTP()
	if err := tpCfg.Validate(); err != nil {
		return err
	}
	if _, err := c.Address(); err != nil {
		return err
	}
	return c.Options().Validate()
}

// Address returns the normal addressing pair; ids above 0x7FF select 29-bit frames.
func (c Config) Address() (*tp_layer.Address, error) {
	if c.TxID > 0x7FF || c.RxID > 0x7FF {
		return tp_layer.NewAddress(tp_layer.Normal29Bit, tp_layer.WithTxID(c.TxID), tp_layer.WithRxID(c.RxID))
	}
	return tp_layer.NewNormal11BitAddress(c.TxID, c.RxID)
}

// ISOTP returns the transport parameters.
func (c Config) ISOTP() tp_layer.Config {
	cfg := tp_layer.DefaultConfig()
	cfg.StMin = c.StMin
	cfg.BlockSize = c.BlockSize
	cfg.BlockingSend = c.BlockingSend
	cfg.PaddingByte = c.Padding
	return cfg
}

// Options returns the exchange engine timings.
func (c Config) Options() tcuclient.Options {
	opts := tcuclient.DefaultOptions()
	opts.SessionTimeout = c.SessionTimeout
	opts.ReadTimeout = c.ReadTimeout
	opts.ReadAttempts = c.ReadAttempts
	opts.WriteTimeout = c.WriteTimeout
	return opts
}

// SLCAN returns the serial adapter settings for channel.
func (c Config) SLCAN() driver.SLCANConfig {
	sc := driver.DefaultSLCANConfig(c.Channel)
	sc.TTYBaudrate = c.TTYBaudrate
	sc.Bitrate = c.Bitrate
	return sc
}
