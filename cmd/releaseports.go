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

	"github.com/spf13/cobra"
)

var releasePortsCmd = &cobra.Command{
	Use:   "release-ports",
	Short: "Close stale serial handles and reset known USB bridges",
	Long: `Use this when a port is reported as busy after an interrupted flash.
Closes every port handle of this process and resets the USB to serial
bridges of attached boards, which makes the operating system drop handles
left behind by crashed processes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := newFlasher().ForceReleaseAll()
		if err != nil {
			return fmt.Errorf("reset USB bridges: %w", err)
		}
		fmt.Printf("released %d port handle(s) and USB bridge(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(releasePortsCmd)
}
