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
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mame82/espflash/firmware"
)

var releasesCmd = &cobra.Command{
	Use:   "releases [firmware-id]",
	Short: "List the firmware catalogue or the releases of one firmware",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat := firmware.NewCatalogue(cfg.Firmware.Repositories, firmware.WithLogger(log.WithField("component", "firmware")))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		defer w.Flush()

		if len(args) == 0 {
			fmt.Fprintln(w, "ID\tNAME\tREPOSITORY")
			for _, r := range cat.Repositories() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Name, r.Repository)
			}
			return nil
		}

		ctx, stop := interruptContext()
		defer stop()

		src, err := cat.Source(args[0])
		if err != nil {
			return err
		}
		releases, err := src.List(ctx)
		if err != nil {
			return err
		}
		if len(releases) == 0 {
			fmt.Fprintf(w, "no releases at %s\n", src.ReleasesURL())
			return nil
		}
		fmt.Fprintln(w, "VERSION\tASSET\tCHIP\tSIZE\tPUBLISHED")
		for _, r := range releases {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Version, r.Name, r.ChipType, firmware.FormatSize(r.Size), r.Published.Format("2006-01-02"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(releasesCmd)
}
