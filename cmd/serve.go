package cmd

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nixxel-company-limited/escpos-bridge/adapter"
	"github.com/nixxel-company-limited/escpos-bridge/bridge"
	"github.com/nixxel-company-limited/escpos-bridge/config"
	"github.com/nixxel-company-limited/escpos-bridge/escpos"
	"github.com/nixxel-company-limited/escpos-bridge/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the printer bridge server",
	Long: `Start the printer bridge server. The printer is bound on the first
initPrinter request, or right away with --bind-on-start.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Printf("Server will listen on: %s", cfg.Server.Address)
	log.Printf("Printer transport: %s", describePrinter(cfg.Printer))

	binder := escpos.NewBinder(newOpener(cfg.Printer), cfg.EscposOptions())
	b := bridge.New(binder)
	defer b.Close()

	if cfg.Printer.BindOnStart {
		b.InitPrinter(nil)
	}

	svr := server.New(b, cfg.Server.Address)
	if err := svr.StartAsync(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Println("Shutting down...")
	return svr.Stop()
}

// newOpener returns the adapter factory for the configured printer
func newOpener(p config.PrinterConfig) escpos.Opener {
	if p.Transport == config.TransportNetwork {
		address := p.Address
		return func() (adapter.Adapter, error) {
			return adapter.NewNetworkAdapter(address), nil
		}
	}

	return func() (adapter.Adapter, error) {
		var (
			device *adapter.USBAdapter
			err    error
		)
		switch {
		case p.Serial != "":
			device, err = adapter.NewUSBAdapterBySerial(p.Serial)
		case p.VID != 0:
			device, err = adapter.NewUSBAdapter(p.VID, p.PID)
		default:
			device, err = adapter.NewUSBAdapterAuto()
		}
		if err != nil {
			return nil, err
		}
		return device, nil
	}
}

func describePrinter(p config.PrinterConfig) string {
	switch {
	case p.Transport == config.TransportNetwork:
		return fmt.Sprintf("network %s", p.Address)
	case p.Serial != "":
		return fmt.Sprintf("usb serial %s", p.Serial)
	case p.VID != 0:
		return fmt.Sprintf("usb %04x:%04x", p.VID, p.PID)
	default:
		return "usb (first printer found)"
	}
}

