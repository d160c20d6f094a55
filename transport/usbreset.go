package transport

import (
	"fmt"

	"github.com/google/gousb"
	log "github.com/sirupsen/logrus"
)

// ResetUSBBridges issues a USB port reset to every attached known bridge.
// It is the last resort when a crashed process left a bridge wedged and the
// OS keeps reporting it busy. It returns the number of bridges reset.
func ResetUSBBridges(l *log.Entry) (int, error) {
	if l == nil {
		l = log.NewEntry(log.StandardLogger())
	}

	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := LookupBridge(uint16(desc.Vendor), uint16(desc.Product))
		return ok
	})
	// OpenDevices returns the devices it could open alongside the first error
	if err != nil && len(devs) == 0 {
		return 0, fmt.Errorf("open USB bridges: %w", err)
	}
	if err != nil {
		l.WithError(err).Warn("some USB bridges could not be opened")
	}

	reset := 0
	for _, dev := range devs {
		dl := l.WithField("usb", fmt.Sprintf("%s:%s", dev.Desc.Vendor, dev.Desc.Product))
		if rerr := dev.Reset(); rerr != nil {
			dl.WithError(rerr).Warn("USB reset failed")
		} else {
			dl.Info("USB bridge reset")
			reset++
		}
		dev.Close()
	}
	return reset, nil
}
