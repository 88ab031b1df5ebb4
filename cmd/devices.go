package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/gousb"
	"github.com/spf13/cobra"

	"github.com/nixxel-company-limited/escpos-bridge/adapter"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List connected USB printers",
	Long: `List the USB devices that expose a printer interface, with the
VID, PID and serial number to use in the printer configuration.`,
	Args: cobra.NoArgs,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := gousb.NewContext()
	defer ctx.Close()

	printers := adapter.FindPrinters(ctx)
	if len(printers) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No USB printers found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VID\tPID\tMANUFACTURER\tPRODUCT\tSERIAL")
	for _, dev := range printers {
		fmt.Fprintf(w, "%04x\t%04x\t%s\t%s\t%s\n",
			uint16(dev.Desc.Vendor), uint16(dev.Desc.Product),
			describe(dev.Manufacturer), describe(dev.Product), describe(dev.SerialNumber))
		dev.Close()
	}
	return w.Flush()
}

// describe reads a string descriptor, or "-" when the device has none
func describe(read func() (string, error)) string {
	s, err := read()
	if err != nil || s == "" {
		return "-"
	}
	return s
}
