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
	"fmt"
	"io"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/mame82/espflash/esp"
	"github.com/mame82/espflash/flasher"
	"github.com/mame82/espflash/transport"
)

// interruptContext is cancelled on Ctrl+C.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func newOpener() *transport.Opener {
	return transport.NewOpener(
		transport.WithBaud(cfg.Baud),
		transport.WithOpenerLogger(log.WithField("component", "transport")),
	)
}

// clientOptions maps the flash section of the configuration onto the
// protocol client.
func clientOptions() []esp.Option {
	fc := cfg.Flash
	return []esp.Option{
		esp.WithSyncAttempts(fc.SyncAttempts),
		esp.WithSyncTimeout(fc.SyncTimeout.Std()),
		esp.WithCommandTimeout(fc.CommandTimeout.Std()),
		esp.WithEraseTimeout(fc.EraseTimeout.Std()),
		esp.WithFlashSize(fc.FlashSize),
		esp.WithCompression(fc.Compress),
	}
}

// newFlasher builds a Flasher on the serial transport with the port chosen
// by portSelector.
func newFlasher(opts ...flasher.Option) *flasher.Flasher {
	base := []flasher.Option{
		flasher.WithChunkSize(cfg.Flash.ChunkSize),
		flasher.WithChunkDelay(cfg.Flash.ChunkDelay.Std()),
		flasher.WithVerify(cfg.Flash.Verify),
		flasher.WithAllowGenericChip(cfg.Flash.AllowGenericChip),
		flasher.WithClientOptions(clientOptions()...),
		flasher.WithBridgeReset(transport.ResetUSBBridges),
		flasher.WithLogger(log.WithField("component", "flasher")),
	}
	t := flasher.NewSerialTransport(newOpener(), portSelector())
	return flasher.New(t, append(base, opts...)...)
}

// progressPrinter prints one line per stage change or percent step.
type progressPrinter struct {
	out   io.Writer
	stage flasher.Stage
	pct   int
	begun bool
}

func (p *progressPrinter) print(ev flasher.Progress) {
	if p.begun && ev.Stage == p.stage && ev.Percent == p.pct {
		return
	}
	p.begun, p.stage, p.pct = true, ev.Stage, ev.Percent
	fmt.Fprintln(p.out, ev.String())
}

// reportFailure prints what the user can do about err and returns it.
func reportFailure(err error) error {
	if g := flasher.Guidance(err); g != "" {
		fmt.Fprintln(os.Stderr, g)
	}
	return err
}
