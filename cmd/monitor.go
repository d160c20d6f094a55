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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/mame82/espflash/esp"
	"github.com/mame82/espflash/transport"
)

const (
	monitorExitKey  = 0x1d // Ctrl+]
	monitorSoftKey  = 0x04 // Ctrl+D, soft reboot on MicroPython style REPLs
	monitorBaudRate = 115200
)

var (
	monitorBaud      int
	monitorReset     bool
	monitorSoftReset bool
)

// crlf expands bare newlines; a raw terminal does not.
func crlf(p []byte) []byte {
	return bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
}

// pumpInput copies stdin to the port until the exit key is seen.
func pumpInput(in io.Reader, out io.Writer) error {
	buf := make([]byte, 64)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if i := bytes.IndexByte(chunk, monitorExitKey); i >= 0 {
				_, werr := out.Write(chunk[:i])
				return werr
			}
			if _, werr := out.Write(chunk); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Open a serial console to the board (exit with Ctrl+])",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		opener := transport.NewOpener(
			transport.WithBaud(monitorBaud),
			transport.WithOpenerLogger(log.WithField("component", "monitor")),
		)
		h, err := opener.Open(ctx, portSelector(), "monitor")
		if err != nil {
			return reportFailure(err)
		}
		defer h.Close()

		if monitorReset {
			if err := esp.NewClient(h, esp.WithLogger(log.WithField("port", h.Name()))).HardReset(); err != nil {
				return err
			}
		}
		if monitorSoftReset {
			if _, err := h.Write([]byte{monitorSoftKey}); err != nil {
				return err
			}
		}

		raw := term.IsTerminal(int(os.Stdin.Fd()))
		if raw {
			state, err := term.MakeRaw(int(os.Stdin.Fd()))
			if err != nil {
				return fmt.Errorf("raw terminal: %w", err)
			}
			defer term.Restore(int(os.Stdin.Fd()), state)
		}
		fmt.Fprintf(os.Stderr, "--- %s at %d baud, Ctrl+] to exit ---\r\n", h.Name(), h.Baud())

		readErr := make(chan error, 1)
		go func() {
			for {
				data, err := h.Read(ctx)
				if err != nil {
					readErr <- err
					return
				}
				if raw {
					data = crlf(data)
				}
				os.Stdout.Write(data)
			}
		}()

		inputErr := make(chan error, 1)
		go func() { inputErr <- pumpInput(os.Stdin, h) }()

		select {
		case err = <-readErr:
		case err = <-inputErr:
		}
		cancel()
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().IntVar(&monitorBaud, "monitor-baud", monitorBaudRate, "baud rate of the application console")
	monitorCmd.Flags().BoolVarP(&monitorReset, "reset", "r", false, "hard reset the board before attaching")
	monitorCmd.Flags().BoolVar(&monitorSoftReset, "soft-reset", false, "send Ctrl+D after attaching")
}
