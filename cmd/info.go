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

var infoNoReset bool

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect to the bootloader and print the chip family",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := interruptContext()
		defer stop()

		f := newFlasher()
		defer f.Disconnect()

		if err := f.Connect(ctx); err != nil {
			return reportFailure(err)
		}
		fmt.Printf("Port: %s\n", f.Port())
		fmt.Printf("Chip: %s\n", f.Chip())

		if infoNoReset {
			return nil
		}
		return f.Reset()
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoNoReset, "no-reset", false, "leave the board in the bootloader")
}
