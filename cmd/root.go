// Package cmd implements the escpos-bridge command line.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nixxel-company-limited/escpos-bridge/config"
)

var rootCmd = &cobra.Command{
	Use:   "escpos-bridge",
	Short: "Bridge between a calling layer and an ESC/POS receipt printer",
	Long: `escpos-bridge binds a USB or network ESC/POS printer and exposes
printer operations (text, images, barcodes, QR codes, tables and
buffered transactions) to clients over a line-delimited JSON protocol.

Running it without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./escpos-bridge.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	addServeFlags(rootCmd.PersistentFlags())
}

// addServeFlags registers the server and printer flags on fs and binds them
// to their config keys. They are persistent so serve and the bare root
// command share them.
func addServeFlags(fs *pflag.FlagSet) {
	fs.StringP("address", "a", "", "address to listen on (server.address)")
	fs.StringP("transport", "t", "", "printer transport: usb or network (printer.transport)")
	fs.String("printer-address", "", "network printer host:port (printer.address)")
	fs.String("serial", "", "USB printer serial number (printer.serial)")
	fs.String("charset", "", "text charset: gb18030, gbk, cp437 or utf-8 (printer.charset)")
	fs.Bool("bind-on-start", false, "bind the printer when the server starts (printer.bind_on_start)")

	bindFlag(fs, "server.address", "address")
	bindFlag(fs, "printer.transport", "transport")
	bindFlag(fs, "printer.address", "printer-address")
	bindFlag(fs, "printer.serial", "serial")
	bindFlag(fs, "printer.charset", "charset")
	bindFlag(fs, "printer.bind_on_start", "bind-on-start")
}

func bindFlag(fs *pflag.FlagSet, key, name string) {
	_ = viper.BindPFlag(key, fs.Lookup(name))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("escpos-bridge")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/escpos-bridge")
	}

	// SERVER_ADDRESS, PRINTER_TRANSPORT, ...
	config.BindEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
