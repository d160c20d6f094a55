package esp

import "fmt"

// ChipFamily identifies the target SoC family as reported by its ROM.
type ChipFamily int

const (
	ChipUnknown ChipFamily = iota
	ChipESP8266
	ChipESP32
	ChipESP32S2
	ChipESP32S3
	ChipESP32C2
	ChipESP32C3
	ChipESP32C6
	ChipESP32H2
	// ChipGeneric is used when detection failed but the caller accepted a
	// session with a generic ESP32 profile.
	ChipGeneric
)

func (c ChipFamily) String() string {
	switch c {
	case ChipESP8266:
		return "ESP8266"
	case ChipESP32:
		return "ESP32"
	case ChipESP32S2:
		return "ESP32-S2"
	case ChipESP32S3:
		return "ESP32-S3"
	case ChipESP32C2:
		return "ESP32-C2"
	case ChipESP32C3:
		return "ESP32-C3"
	case ChipESP32C6:
		return "ESP32-C6"
	case ChipESP32H2:
		return "ESP32-H2"
	case ChipGeneric:
		return "ESP32 (generic)"
	}
	return "Unknown"
}

// Known reports whether c is a concrete, detected family.
func (c ChipFamily) Known() bool {
	return c != ChipUnknown && c != ChipGeneric
}

// needsEncryptedFlag reports whether FLASH_BEGIN on this family's ROM takes
// the additional encryption word.
func (c ChipFamily) needsEncryptedFlag() bool {
	switch c {
	case ChipESP8266, ChipESP32, ChipUnknown, ChipGeneric:
		return false
	}
	return true
}

// chipDetectMagicReg holds a per family constant on all chips that predate
// the GET_SECURITY_INFO chip id.
const chipDetectMagicReg uint32 = 0x40001000

var chipMagic = map[uint32]ChipFamily{
	0xfff0c101: ChipESP8266,
	0x00f01d83: ChipESP32,
	0x000007c6: ChipESP32S2,
	0x00000009: ChipESP32S3,
	0x6f51306f: ChipESP32C2,
	0x7c41a06f: ChipESP32C2,
	0x6921506f: ChipESP32C3,
	0x1b31506f: ChipESP32C3,
	0x4881606f: ChipESP32C3,
	0x4361606f: ChipESP32C3,
	0x2ce0806f: ChipESP32C6,
	0xd7b73e80: ChipESP32H2,
}

// chipIDs maps the chip id field of GET_SECURITY_INFO.
var chipIDs = map[uint32]ChipFamily{
	0x02: ChipESP32S2,
	0x05: ChipESP32C3,
	0x09: ChipESP32S3,
	0x0c: ChipESP32C2,
	0x0d: ChipESP32C6,
	0x10: ChipESP32H2,
}

// ChipFromMagic maps the value of the chip detect register to a family.
func ChipFromMagic(magic uint32) ChipFamily {
	if c, ok := chipMagic[magic]; ok {
		return c
	}
	return ChipUnknown
}

// ChipFromID maps a GET_SECURITY_INFO chip id to a family.
func ChipFromID(id uint32) ChipFamily {
	if c, ok := chipIDs[id]; ok {
		return c
	}
	return ChipUnknown
}

// MagicFor returns a magic register value for the family, used by emulators.
func MagicFor(c ChipFamily) (uint32, error) {
	for magic, fam := range chipMagic {
		if fam == c {
			// several C2/C3 revisions exist, any of them identifies the family
			return magic, nil
		}
	}
	return 0, fmt.Errorf("no magic value for %s", c)
}
