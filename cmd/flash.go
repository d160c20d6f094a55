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
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mame82/espflash/auth"
	"github.com/mame82/espflash/esp"
	"github.com/mame82/espflash/firmware"
	"github.com/mame82/espflash/flasher"
)

var (
	flashFile       string
	flashFirmware   string
	flashVersion    string
	flashKey        string
	flashVerify     bool
	flashNoCompress bool
	flashChunkSize  int
	flashCancel     bool
)

var errNoImage = errors.New("no firmware given, use --file or --firmware")

// loadImage reads the image from --file, picks one from a directory given
// as --file, or downloads it from the firmware catalogue.
func loadImage(ctx context.Context) ([]byte, string, error) {
	switch {
	case flashFile != "" && flashFirmware != "":
		return nil, "", errors.New("--file and --firmware are mutually exclusive")
	case flashFile != "":
		info, err := os.Stat(flashFile)
		if err != nil {
			return nil, "", err
		}
		if info.IsDir() {
			return fetchRelease(ctx, firmware.NewDirSource(flashFile), flashVersion)
		}
		data, err := firmware.ReadFile(flashFile)
		return data, flashFile, err
	case flashFirmware == "":
		return nil, "", errNoImage
	}

	cat := firmware.NewCatalogue(cfg.Firmware.Repositories, firmware.WithLogger(log.WithField("component", "firmware")))
	src, err := cat.Source(flashFirmware)
	if err != nil {
		return nil, "", err
	}
	data, name, err := fetchRelease(ctx, src, flashVersion)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", flashFirmware, err)
	}
	return data, name, nil
}

func fetchRelease(ctx context.Context, src firmware.Source, want string) ([]byte, string, error) {
	releases, err := src.List(ctx)
	if err != nil {
		return nil, "", err
	}
	rel, err := pickRelease(releases, want)
	if err != nil {
		return nil, "", err
	}

	fmt.Printf("Loading %s\n", rel)
	data, err := src.Fetch(ctx, rel.DownloadRef)
	return data, rel.Name, err
}

// pickRelease returns the newest release, or the one whose version or
// asset name equals want.
func pickRelease(releases []firmware.Release, want string) (firmware.Release, error) {
	if len(releases) == 0 {
		return firmware.Release{}, errors.New("no releases published")
	}
	if want == "" {
		return releases[0], nil
	}
	for _, r := range releases {
		if strings.EqualFold(r.Version, want) || r.Name == want {
			return r, nil
		}
	}
	return firmware.Release{}, fmt.Errorf("no release %q", want)
}

var flashCmd = &cobra.Command{
	Use:   "flash [image.bin]",
	Short: "Write a firmware image to the board",
	Long: `Write a firmware image to the board and reset it.

The board is put into its ROM bootloader via DTR/RTS, so most development
boards need no button presses. If synchronization fails, hold BOOT, tap
RESET, release BOOT and try again.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			flashFile = args[0]
		}

		ctx, stop := interruptContext()
		defer stop()

		data, name, err := loadImage(ctx)
		if err != nil {
			return err
		}

		var opts []flasher.Option
		if cmd.Flags().Changed("verify") {
			opts = append(opts, flasher.WithVerify(flashVerify))
		}
		if flashChunkSize > 0 {
			opts = append(opts, flasher.WithChunkSize(flashChunkSize))
		}
		if flashNoCompress {
			opts = append(opts, flasher.WithClientOptions(esp.WithCompression(false)))
		}
		opts = append(opts, flasher.WithCancellation(flashCancel))

		needAuth := cfg.Auth.Required || flashKey != ""
		if needAuth {
			if flashKey == "" {
				return fmt.Errorf("%w: this installation requires --key", flasher.ErrNotAuthorized)
			}
			deviceID, err := auth.LoadOrCreateDeviceID(cfg.Auth.StateDir)
			if err != nil {
				return err
			}
			client := auth.NewClient(cfg.Auth.URL, auth.WithLogger(log.WithField("component", "auth")))
			opts = append(opts, flasher.WithAuthorizer(client, deviceID))
		}

		f := newFlasher(opts...)
		defer f.Disconnect()

		if needAuth {
			if err := f.Authorize(ctx, flashKey); err != nil {
				return reportFailure(err)
			}
		}

		if err := f.Connect(ctx); err != nil {
			return reportFailure(err)
		}
		fmt.Printf("Connected to %s on %s\n", f.Chip(), f.Port())
		fmt.Printf("Flashing %s\n", name)

		// the error event already carries the guidance
		p := &progressPrinter{out: os.Stdout}
		return f.Flash(ctx, data, p.print)
	},
}

func init() {
	rootCmd.AddCommand(flashCmd)
	flashCmd.Flags().StringVarP(&flashFile, "file", "f", "", "firmware image to write, or a directory of images")
	flashCmd.Flags().StringVar(&flashFirmware, "firmware", "", "catalogue id of the firmware to download (see 'releases')")
	flashCmd.Flags().StringVar(&flashVersion, "version", "", "release version or image name, newest if empty")
	flashCmd.Flags().StringVarP(&flashKey, "key", "k", "", "activation key")
	flashCmd.Flags().BoolVar(&flashVerify, "verify", false, "compare the MD5 of the written region")
	flashCmd.Flags().BoolVar(&flashNoCompress, "no-compress", false, "send data uncompressed")
	flashCmd.Flags().IntVar(&flashChunkSize, "chunk-size", 0, "bytes per write, overrides the config")
	flashCmd.Flags().BoolVar(&flashCancel, "cancel", false, "let Ctrl+C abort a running write (may leave the board unbootable)")
}
