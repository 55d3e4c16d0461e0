// Package config reads the smbclient settings file.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/VasilyKirillov/smbjclient/client"
	"github.com/VasilyKirillov/smbjclient/smb2"
)

// FileName is the name of the settings file in the home directory.
const FileName = ".smbclient.yml"

const (
	minTransferSize = 4096
	maxTransferSize = 8 << 20
)

// Config lists the config fields.
type Config struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Domain         string        `yaml:"domain"`
	Share          string        `yaml:"share"`
	Timeout        time.Duration `yaml:"timeout"`
	Debug          bool          `yaml:"debug"`
	RequireSigning bool          `yaml:"requireSigning"`
	Compression    bool          `yaml:"compression"`
	MaxCredits     uint16        `yaml:"maxCredits"`
	MaxReadSize    uint32        `yaml:"maxReadSize"`
	MaxWriteSize   uint32        `yaml:"maxWriteSize"`
	MinDialect     string        `yaml:"minDialect"`
	MaxDialect     string        `yaml:"maxDialect"`
}

// Default returns the settings used when neither the file nor a flag sets them.
func Default() Config {
	return Config{
		Port:       445,
		Timeout:    30 * time.Second,
		MaxCredits: 128,
		MinDialect: "2.0.2",
		MaxDialect: "3.1.1",
	}
}

// DefaultPath returns $HOME/.smbclient.yml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, FileName), nil
}

// Load reads the config from path on top of the defaults. Unknown keys are an error.
func Load(path string) (cfg Config, err error) {
	cfg = Default()

	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err = dec.Decode(&cfg); errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", path, err)
	}
	return
}

// LoadDefault reads the file at DefaultPath. A missing file yields the defaults.
func LoadDefault() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Default(), nil
	}

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the dialect names, the port and the transfer sizes.
func (c Config) Validate() error {
	minDialect, err := smb2.ParseDialect(c.MinDialect)
	if err != nil {
		return fmt.Errorf("minDialect: %w", err)
	}
	maxDialect, err := smb2.ParseDialect(c.MaxDialect)
	if err != nil {
		return fmt.Errorf("maxDialect: %w", err)
	}
	if minDialect > maxDialect {
		return fmt.Errorf("minDialect %s is above maxDialect %s", c.MinDialect, c.MaxDialect)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("negative timeout %v", c.Timeout)
	}

	for name, size := range map[string]uint32{"maxReadSize": c.MaxReadSize, "maxWriteSize": c.MaxWriteSize} {
		if size != 0 && (size < minTransferSize || size > maxTransferSize) {
			return fmt.Errorf("%s %d out of range [%d, %d]", name, size, minTransferSize, maxTransferSize)
		}
	}

	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options converts the config into client options. Logger, metrics and
// the dialer are left for the caller.
func (c Config) Options() (client.Options, error) {
	if err := c.Validate(); err != nil {
		return client.Options{}, err
	}

	minDialect, _ := smb2.ParseDialect(c.MinDialect)
	maxDialect, _ := smb2.ParseDialect(c.MaxDialect)

	return client.Options{
		Timeout:        c.Timeout,
		RequireSigning: c.RequireSigning,
		Compression:    c.Compression,
		MaxCredits:     c.MaxCredits,
		MaxReadSize:    c.MaxReadSize,
		MaxWriteSize:   c.MaxWriteSize,
		MinDialect:     minDialect,
		MaxDialect:     maxDialect,
	}, nil
}
