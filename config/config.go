// Package config holds the bridge configuration, read through viper from
// defaults, an optional config file and the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/nixxel-company-limited/escpos-bridge/escpos"
)

// Printer transports
const (
	TransportUSB     = "usb"
	TransportNetwork = "network"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Printer PrinterConfig `mapstructure:"printer"`
}

// ServerConfig controls the RPC listener
type ServerConfig struct {
	// Address the server listens on, host:port
	Address string `mapstructure:"address"`
}

// PrinterConfig selects and describes the printer
type PrinterConfig struct {
	// Transport is "usb" or "network"
	Transport string `mapstructure:"transport"`
	// VID and PID pick a USB device; both zero means the first printer found
	VID uint16 `mapstructure:"vid"`
	PID uint16 `mapstructure:"pid"`
	// Serial picks a USB device by serial number and takes precedence over VID/PID
	Serial string `mapstructure:"serial"`
	// Address of a network printer, host:port
	Address string `mapstructure:"address"`

	Charset      string `mapstructure:"charset"`
	DotsPerLine  int    `mapstructure:"dots_per_line"`
	CharsPerLine int    `mapstructure:"chars_per_line"`
	// QueryStatus asks the printer for its state with DLE EOT
	QueryStatus bool `mapstructure:"query_status"`
	// BindOnStart binds the printer when the server starts instead of on the first initPrinter
	BindOnStart bool `mapstructure:"bind_on_start"`
}

// Default returns a Config with the default values
func Default() *Config {
	opts := escpos.DefaultOptions()
	return &Config{
		Server: ServerConfig{
			Address: "localhost:9100",
		},
		Printer: PrinterConfig{
			Transport:    TransportUSB,
			Charset:      opts.Charset,
			DotsPerLine:  opts.DotsPerLine,
			CharsPerLine: opts.CharsPerLine,
		},
	}
}

// SetDefaults registers the default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("server.address", defaults.Server.Address)

	viper.SetDefault("printer.transport", defaults.Printer.Transport)
	viper.SetDefault("printer.vid", defaults.Printer.VID)
	viper.SetDefault("printer.pid", defaults.Printer.PID)
	viper.SetDefault("printer.serial", defaults.Printer.Serial)
	viper.SetDefault("printer.address", defaults.Printer.Address)
	viper.SetDefault("printer.charset", defaults.Printer.Charset)
	viper.SetDefault("printer.dots_per_line", defaults.Printer.DotsPerLine)
	viper.SetDefault("printer.chars_per_line", defaults.Printer.CharsPerLine)
	viper.SetDefault("printer.query_status", defaults.Printer.QueryStatus)
	viper.SetDefault("printer.bind_on_start", defaults.Printer.BindOnStart)
}

// BindEnv makes every key readable from the environment, e.g. SERVER_ADDRESS
// for server.address
func BindEnv() {
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// EscposOptions returns the printer service options
func (c *Config) EscposOptions() escpos.Options {
	return escpos.Options{
		Charset:      c.Printer.Charset,
		DotsPerLine:  c.Printer.DotsPerLine,
		CharsPerLine: c.Printer.CharsPerLine,
		QueryStatus:  c.Printer.QueryStatus,
	}
}
