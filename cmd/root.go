// Copyright © 2019 Marcus Mengs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mame82/espflash/config"
)

var (
	cfgFile  string
	portName string
	baudRate int
	logLevel string
	verbose  bool

	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "espflash",
	Short: "Flash firmware to ESP32 boards over their ROM serial bootloader",
	Long: `espflash writes firmware images to ESP32 family boards through the
serial bootloader in the chip's ROM. No esptool installation is needed.

Merged images (starting with 0xE9) are written to offset 0x0 after a full
chip erase, application images are written to 0x10000.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			c.Port = portName
		}
		if cmd.Flags().Changed("baud") {
			c.Baud = baudRate
		}
		if cmd.Flags().Changed("log-level") {
			c.LogLevel = logLevel
		}
		if verbose {
			c.LogLevel = "debug"
		}
		if err := c.Validate(); err != nil {
			return err
		}

		lvl, err := log.ParseLevel(c.LogLevel)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}
		log.SetLevel(lvl)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: lvl >= log.DebugLevel})

		cfg = c
		log.WithField("config", cfgFile).Debug("configuration loaded")
		return nil
	},
}

// Execute runs the root command, exiting non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/espflash/config.yaml)")
	pf.StringVarP(&portName, "port", "p", "", "serial port to use, chosen interactively if empty")
	pf.IntVarP(&baudRate, "baud", "b", 115200, "baud rate of the bootloader link")
	pf.StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level debug")
}
