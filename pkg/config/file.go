package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RawFileConfig mirrors the config file. Pointer fields tell an absent key
// apart from a zero value.
type RawFileConfig struct {
	ShutDownRunTimeMinutes      *int     `json:"ShutDownRunTimeMinutes,omitempty" yaml:"ShutDownRunTimeMinutes,omitempty" toml:"ShutDownRunTimeMinutes,omitempty"`
	LogUpdateIntervalMinutes    *int     `json:"LogUpdateIntervalMinutes,omitempty" yaml:"LogUpdateIntervalMinutes,omitempty" toml:"LogUpdateIntervalMinutes,omitempty"`
	LogOnBatteryIntervalSeconds *int     `json:"LogOnBatteryIntervalSeconds,omitempty" yaml:"LogOnBatteryIntervalSeconds,omitempty" toml:"LogOnBatteryIntervalSeconds,omitempty"`
	SleepIntervalSeconds        *int     `json:"SleepIntervalSeconds,omitempty" yaml:"SleepIntervalSeconds,omitempty" toml:"SleepIntervalSeconds,omitempty"`
	ComputerNames               []string `json:"ComputerNames,omitempty" yaml:"ComputerNames,omitempty" toml:"ComputerNames,omitempty"`

	LogDirectory               *string `json:"LogDirectory,omitempty" yaml:"LogDirectory,omitempty" toml:"LogDirectory,omitempty"`
	ShutdownTimeoutSeconds     *int    `json:"ShutdownTimeoutSeconds,omitempty" yaml:"ShutdownTimeoutSeconds,omitempty" toml:"ShutdownTimeoutSeconds,omitempty"`
	IndependentThrottleWindows *bool   `json:"IndependentThrottleWindows,omitempty" yaml:"IndependentThrottleWindows,omitempty" toml:"IndependentThrottleWindows,omitempty"`
	RemoteUser                 *string `json:"RemoteUser,omitempty" yaml:"RemoteUser,omitempty" toml:"RemoteUser,omitempty"`
	SSHIdentityFile            *string `json:"SSHIdentityFile,omitempty" yaml:"SSHIdentityFile,omitempty" toml:"SSHIdentityFile,omitempty"`
	SSHKnownHostsFile          *string `json:"SSHKnownHostsFile,omitempty" yaml:"SSHKnownHostsFile,omitempty" toml:"SSHKnownHostsFile,omitempty"`
	SSHPort                    *int    `json:"SSHPort,omitempty" yaml:"SSHPort,omitempty" toml:"SSHPort,omitempty"`
	RemoteOS                   *string `json:"RemoteOS,omitempty" yaml:"RemoteOS,omitempty" toml:"RemoteOS,omitempty"`
}

// Load reads, parses and validates the config file at path. The format is
// picked from the extension: .yaml/.yml, .toml, anything else is JSON.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, &Error{Kind: MissingFile, Path: path, Err: err}
		}
		return Config{}, &Error{Kind: ParseFailure, Path: path, Err: pkgerrors.Wrap(err, "failed to read file")}
	}

	raw, err := Parse(b, formatOf(path))
	if err != nil {
		return Config{}, &Error{Kind: ParseFailure, Path: path, Err: err}
	}

	c, err := raw.Validate()
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.Path = path
		}
		return Config{}, err
	}

	if c.LogDirectory == "" {
		c.LogDirectory = filepath.Join(filepath.Dir(path), DefaultLogDirName)
	}

	return c, nil
}

// Format is a supported config file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// utf8BOM is written at the start of UTF-8 files by many Windows editors.
var utf8BOM = []byte("\xef\xbb\xbf")

// Parse decodes b without validating it. A leading UTF-8 byte order mark is
// ignored.
func Parse(b []byte, format Format) (*RawFileConfig, error) {
	b = bytes.TrimPrefix(b, utf8BOM)
	if strings.TrimSpace(string(b)) == "" {
		return nil, pkgerrors.New("file is empty")
	}

	raw := &RawFileConfig{}
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(b, raw)
	case FormatTOML:
		err = toml.Unmarshal(b, raw)
	default:
		err = json.Unmarshal(b, raw)
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal %s", format)
	}

	return raw, nil
}

// Validate checks every field and converts r into a Config. The first
// invalid field is reported.
func (r *RawFileConfig) Validate() (Config, error) {
	required := []struct {
		name  string
		value *int
	}{
		{"ShutDownRunTimeMinutes", r.ShutDownRunTimeMinutes},
		{"LogUpdateIntervalMinutes", r.LogUpdateIntervalMinutes},
		{"LogOnBatteryIntervalSeconds", r.LogOnBatteryIntervalSeconds},
		{"SleepIntervalSeconds", r.SleepIntervalSeconds},
	}
	for _, f := range required {
		if f.value == nil {
			return Config{}, &Error{Kind: InvalidField, Field: f.name, Err: pkgerrors.New("field is missing")}
		}
		if *f.value < 1 {
			return Config{}, &Error{Kind: InvalidField, Field: f.name, Err: pkgerrors.Errorf("must be at least 1, got %d", *f.value)}
		}
	}

	names := make([]string, 0, len(r.ComputerNames))
	for i, n := range r.ComputerNames {
		n = strings.TrimSpace(n)
		if n == "" {
			return Config{}, &Error{Kind: InvalidField, Field: "ComputerNames", Err: pkgerrors.Errorf("entry %d is blank", i)}
		}
		names = append(names, n)
	}

	c := Config{
		ShutDownRunTimeMinutes:      *r.ShutDownRunTimeMinutes,
		LogUpdateIntervalMinutes:    *r.LogUpdateIntervalMinutes,
		LogOnBatteryIntervalSeconds: *r.LogOnBatteryIntervalSeconds,
		SleepIntervalSeconds:        *r.SleepIntervalSeconds,
		ComputerNames:               names,
		ShutdownTimeoutSeconds:      DefaultShutdownTimeoutSeconds,
		SSHPort:                     DefaultSSHPort,
		RemoteOS:                    RemoteOSLinux,
	}

	if r.ShutdownTimeoutSeconds != nil {
		if *r.ShutdownTimeoutSeconds < 1 {
			return Config{}, &Error{Kind: InvalidField, Field: "ShutdownTimeoutSeconds", Err: pkgerrors.Errorf("must be at least 1, got %d", *r.ShutdownTimeoutSeconds)}
		}
		c.ShutdownTimeoutSeconds = *r.ShutdownTimeoutSeconds
	}
	if r.LogDirectory != nil {
		c.LogDirectory = *r.LogDirectory
	}
	if r.IndependentThrottleWindows != nil {
		c.IndependentThrottleWindows = *r.IndependentThrottleWindows
	}
	if r.RemoteUser != nil {
		c.RemoteUser = *r.RemoteUser
	}
	if r.SSHIdentityFile != nil {
		c.SSHIdentityFile = *r.SSHIdentityFile
	}
	if r.SSHKnownHostsFile != nil {
		c.SSHKnownHostsFile = *r.SSHKnownHostsFile
	}
	if r.SSHPort != nil {
		if *r.SSHPort < 1 || *r.SSHPort > 65535 {
			return Config{}, &Error{Kind: InvalidField, Field: "SSHPort", Err: pkgerrors.Errorf("must be between 1 and 65535, got %d", *r.SSHPort)}
		}
		c.SSHPort = *r.SSHPort
	}
	if r.RemoteOS != nil {
		switch remoteOS := strings.ToLower(strings.TrimSpace(*r.RemoteOS)); remoteOS {
		case RemoteOSLinux, RemoteOSWindows:
			c.RemoteOS = remoteOS
		default:
			return Config{}, &Error{Kind: InvalidField, Field: "RemoteOS", Err: pkgerrors.Errorf("must be %q or %q, got %q", RemoteOSLinux, RemoteOSWindows, *r.RemoteOS)}
		}
	}

	return c, nil
}
