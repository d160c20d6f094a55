package transport

import (
	"fmt"
	"strconv"
)

// Bridge is a USB to serial converter found on ESP development boards.
type Bridge struct {
	VID  uint16
	PID  uint16 // 0 matches every product of VID
	Name string
}

func (b Bridge) String() string {
	return fmt.Sprintf("%s (%04x:%04x)", b.Name, b.VID, b.PID)
}

var knownBridges = []Bridge{
	{VID: 0x303a, PID: 0x1001, Name: "Espressif USB-Serial/JTAG"},
	{VID: 0x303a, PID: 0x0002, Name: "Espressif USB-OTG"},
	{VID: 0x303a, PID: 0, Name: "Espressif native USB"},
	{VID: 0x1a86, PID: 0x7523, Name: "CH340"},
	{VID: 0x1a86, PID: 0x55d4, Name: "CH9102"},
	{VID: 0x1a86, PID: 0x55d3, Name: "CH343"},
	{VID: 0x10c4, PID: 0xea60, Name: "CP210x"},
	{VID: 0x10c4, PID: 0xea63, Name: "CP210x"},
	{VID: 0x10c4, PID: 0xea71, Name: "CP2108"},
	{VID: 0x0403, PID: 0x6001, Name: "FT232R"},
	{VID: 0x0403, PID: 0x6010, Name: "FT2232"},
	{VID: 0x0403, PID: 0x6015, Name: "FT231X"},
}

// LookupBridge finds the bridge for a USB vendor/product pair. Exact product
// matches win over vendor wide entries.
func LookupBridge(vid, pid uint16) (Bridge, bool) {
	var wildcard *Bridge
	for i, b := range knownBridges {
		if b.VID != vid {
			continue
		}
		if b.PID == pid {
			return b, true
		}
		if b.PID == 0 && wildcard == nil {
			wildcard = &knownBridges[i]
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return Bridge{}, false
}

// parseUSBID parses the hex IDs reported by the port enumerator.
func parseUSBID(s string) uint16 {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
