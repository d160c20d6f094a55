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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/mame82/espflash/transport"
)

var errInvalidChoice = errors.New("invalid choice")

// selectOption prints numbered options and reads a 1-based choice from in.
// An empty answer cancels.
func selectOption(in *bufio.Reader, out io.Writer, prompt string, options []string) (int, error) {
	for i, o := range options {
		fmt.Fprintf(out, "  %d) %s\n", i+1, o)
	}
	fmt.Fprint(out, prompt)

	line, err := in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return -1, transport.ErrNoDeviceSelected
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return -1, transport.ErrNoDeviceSelected
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(options) {
		return -1, fmt.Errorf("%w: %q", errInvalidChoice, line)
	}
	return n - 1, nil
}

// portSelector uses the configured port if any. Otherwise it lists the
// candidate ports and asks the user when more than one is present.
func portSelector() transport.Selector {
	if cfg.Port != "" {
		return transport.Fixed(cfg.Port)
	}
	return transport.SelectorFunc(func() (transport.PortInfo, error) {
		ports, err := transport.ListPorts()
		if err != nil {
			return transport.PortInfo{}, err
		}
		return choosePort(transport.Candidates(ports), os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
	})
}

func choosePort(candidates []transport.PortInfo, in io.Reader, out io.Writer, interactive bool) (transport.PortInfo, error) {
	switch {
	case len(candidates) == 0:
		return transport.PortInfo{}, transport.ErrNoDeviceSelected
	case len(candidates) == 1:
		fmt.Fprintf(out, "Using %s\n", candidates[0])
		return candidates[0], nil
	case !interactive:
		return transport.PortInfo{}, fmt.Errorf("%w: %d ports found, pick one with --port", transport.ErrNoDeviceSelected, len(candidates))
	}

	options := make([]string, len(candidates))
	for i, c := range candidates {
		options[i] = c.String()
	}

	r := bufio.NewReader(in)
	fmt.Fprintln(out, "Multiple serial ports found, select the board to use...")
	for {
		i, err := selectOption(r, out, "port: ", options)
		if errors.Is(err, errInvalidChoice) {
			fmt.Fprintln(out, err)
			continue
		}
		if err != nil {
			return transport.PortInfo{}, err
		}
		return candidates[i], nil
	}
}
