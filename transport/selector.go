package transport

import (
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a candidate port.
type PortInfo struct {
	Name    string
	IsUSB   bool
	VID     uint16
	PID     uint16
	Serial  string
	Product string
	Bridge  string // empty if not a known ESP bridge
}

func (p PortInfo) String() string {
	switch {
	case p.Bridge != "":
		return fmt.Sprintf("%s [%s]", p.Name, p.Bridge)
	case p.IsUSB:
		return fmt.Sprintf("%s [USB %04x:%04x]", p.Name, p.VID, p.PID)
	}
	return p.Name
}

// Selector picks the device to open. It is the user mediated part of Open
// and is always invoked before Open does anything else.
type Selector interface {
	Select() (PortInfo, error)
}

type SelectorFunc func() (PortInfo, error)

func (f SelectorFunc) Select() (PortInfo, error) { return f() }

// Fixed selects name without asking.
func Fixed(name string) Selector {
	return SelectorFunc(func() (PortInfo, error) {
		if name == "" {
			return PortInfo{}, ErrNoDeviceSelected
		}
		return PortInfo{Name: name}, nil
	})
}

// ListPorts enumerates serial ports, known ESP bridges first.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{
			Name:    d.Name,
			IsUSB:   d.IsUSB,
			Serial:  d.SerialNumber,
			Product: d.Product,
		}
		if d.IsUSB {
			info.VID = parseUSBID(d.VID)
			info.PID = parseUSBID(d.PID)
			if b, ok := LookupBridge(info.VID, info.PID); ok {
				info.Bridge = b.Name
			}
		}
		ports = append(ports, info)
	}
	sortPorts(ports)
	return ports, nil
}

func sortPorts(ports []PortInfo) {
	sort.SliceStable(ports, func(i, j int) bool {
		bi, bj := ports[i].Bridge != "", ports[j].Bridge != ""
		if bi != bj {
			return bi
		}
		return ports[i].Name < ports[j].Name
	})
}

// Candidates filters ports down to known ESP bridges. When none is known it
// returns every USB port, then every port.
func Candidates(ports []PortInfo) []PortInfo {
	var bridges, usb []PortInfo
	for _, p := range ports {
		if p.Bridge != "" {
			bridges = append(bridges, p)
		}
		if p.IsUSB {
			usb = append(usb, p)
		}
	}
	switch {
	case len(bridges) > 0:
		return bridges
	case len(usb) > 0:
		return usb
	}
	return ports
}
