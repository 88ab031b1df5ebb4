package main

import (
	"os"

	"github.com/nixxel-company-limited/escpos-bridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
