package esp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
ROM loader packet (before SLIP framing), all fields little endian:

request:  direction(0x00) | command | size uint16 | checksum uint32 | data[size]
response: direction(0x01) | command | size uint16 | value uint32    | data[size]

A response's data ends in a status trailer starting with status and error
code: 4 bytes on ESP32 family ROMs, 2 bytes on the ESP8266 ROM.
*/

type Command byte

const (
	CommandFlashBegin      Command = 0x02
	CommandFlashData       Command = 0x03
	CommandFlashEnd        Command = 0x04
	CommandMemBegin        Command = 0x05
	CommandMemEnd          Command = 0x06
	CommandMemData         Command = 0x07
	CommandSync            Command = 0x08
	CommandWriteReg        Command = 0x09
	CommandReadReg         Command = 0x0a
	CommandSPISetParams    Command = 0x0b
	CommandSPIAttach       Command = 0x0d
	CommandChangeBaudrate  Command = 0x0f
	CommandFlashDeflBegin  Command = 0x10
	CommandFlashDeflData   Command = 0x11
	CommandFlashDeflEnd    Command = 0x12
	CommandSPIFlashMD5     Command = 0x13
	CommandGetSecurityInfo Command = 0x14
	CommandEraseFlash      Command = 0xd0
	CommandEraseRegion     Command = 0xd1
)

func (c Command) String() string {
	switch c {
	case CommandFlashBegin:
		return "FLASH_BEGIN"
	case CommandFlashData:
		return "FLASH_DATA"
	case CommandFlashEnd:
		return "FLASH_END"
	case CommandMemBegin:
		return "MEM_BEGIN"
	case CommandMemEnd:
		return "MEM_END"
	case CommandMemData:
		return "MEM_DATA"
	case CommandSync:
		return "SYNC"
	case CommandWriteReg:
		return "WRITE_REG"
	case CommandReadReg:
		return "READ_REG"
	case CommandSPISetParams:
		return "SPI_SET_PARAMS"
	case CommandSPIAttach:
		return "SPI_ATTACH"
	case CommandChangeBaudrate:
		return "CHANGE_BAUDRATE"
	case CommandFlashDeflBegin:
		return "FLASH_DEFL_BEGIN"
	case CommandFlashDeflData:
		return "FLASH_DEFL_DATA"
	case CommandFlashDeflEnd:
		return "FLASH_DEFL_END"
	case CommandSPIFlashMD5:
		return "SPI_FLASH_MD5"
	case CommandGetSecurityInfo:
		return "GET_SECURITY_INFO"
	case CommandEraseFlash:
		return "ERASE_FLASH"
	case CommandEraseRegion:
		return "ERASE_REGION"
	}
	return fmt.Sprintf("unknown command %#02x", byte(c))
}

const (
	directionRequest  byte = 0x00
	directionResponse byte = 0x01

	headerLen = 8

	// ESP32 family ROM loaders append status, error and two reserved bytes.
	romStatusLen = 4
	// The ESP8266 ROM appends status and error only.
	esp8266StatusLen = 2

	checksumSeed byte = 0xef
)

// Error codes reported by the ROM loader in the status bytes of a response.
type ErrorCode byte

const (
	ErrorCodeInvalidMessage ErrorCode = 0x05
	ErrorCodeFailedToAct    ErrorCode = 0x06
	ErrorCodeInvalidCRC     ErrorCode = 0x07
	ErrorCodeFlashWrite     ErrorCode = 0x08
	ErrorCodeFlashRead      ErrorCode = 0x09
	ErrorCodeFlashReadLen   ErrorCode = 0x0a
	ErrorCodeDeflate        ErrorCode = 0x0b
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorCodeInvalidMessage:
		return "invalid message"
	case ErrorCodeFailedToAct:
		return "failed to act"
	case ErrorCodeInvalidCRC:
		return "invalid CRC"
	case ErrorCodeFlashWrite:
		return "flash write error"
	case ErrorCodeFlashRead:
		return "flash read error"
	case ErrorCodeFlashReadLen:
		return "flash read length error"
	case ErrorCodeDeflate:
		return "deflate error"
	}
	return fmt.Sprintf("unknown error %#02x", byte(e))
}

var (
	errShortPacket  = errors.New("bootloader packet too short")
	errNotResponse  = errors.New("bootloader packet is not a response")
	errSizeMismatch = errors.New("bootloader packet size field does not match payload")
)

type Request struct {
	Command  Command
	Data     []byte
	Checksum uint32
}

// NewRequest builds a request without a data checksum. Only the data
// carrying commands (FLASH_DATA, FLASH_DEFL_DATA, MEM_DATA) need one.
func NewRequest(cmd Command, data []byte) *Request {
	return &Request{Command: cmd, Data: data}
}

// NewDataRequest builds a request whose checksum covers payload, the part of
// data following the 16 byte block header.
func NewDataRequest(cmd Command, data []byte, payload []byte) *Request {
	return &Request{Command: cmd, Data: data, Checksum: Checksum(payload)}
}

func (r *Request) String() string {
	return fmt.Sprintf("Bootloader request %s, len: %d, checksum: %#02x", r.Command, len(r.Data), r.Checksum)
}

func (r *Request) ToWire() (payload []byte, err error) {
	if len(r.Data) > 0xffff {
		return nil, fmt.Errorf("request data too large: %d bytes", len(r.Data))
	}
	payload = make([]byte, headerLen+len(r.Data))
	payload[0] = directionRequest
	payload[1] = byte(r.Command)
	binary.LittleEndian.PutUint16(payload[2:4], uint16(len(r.Data)))
	binary.LittleEndian.PutUint32(payload[4:8], r.Checksum)
	copy(payload[headerLen:], r.Data)
	return payload, nil
}

func (r *Request) FromWire(payload []byte) (err error) {
	if len(payload) < headerLen {
		return errShortPacket
	}
	if payload[0] != directionRequest {
		return fmt.Errorf("invalid direction byte %#02x", payload[0])
	}
	size := int(binary.LittleEndian.Uint16(payload[2:4]))
	if size != len(payload)-headerLen {
		return errSizeMismatch
	}
	r.Command = Command(payload[1])
	r.Checksum = binary.LittleEndian.Uint32(payload[4:8])
	r.Data = make([]byte, size)
	copy(r.Data, payload[headerLen:])
	return nil
}

type Response struct {
	Command Command
	Value   uint32
	Data    []byte
	Status  byte
	Error   ErrorCode

	// StatusLen is the length of the status trailer, 4 when zero.
	StatusLen int
}

func (r *Response) String() string {
	return fmt.Sprintf("Bootloader response %s, value: %#08x, status: %d, error: %#02x, data: % x", r.Command, r.Value, r.Status, byte(r.Error), r.Data)
}

// FromWire parses a response whose trailer length is not known yet. Bodies
// shorter than 4 bytes are taken as ESP8266 replies with a 2 byte trailer.
func (r *Response) FromWire(payload []byte) (err error) {
	return r.fromWire(payload, 0)
}

// FromWireStatus parses a response with a status trailer of statusLen bytes,
// as fixed for the session by the SYNC reply.
func (r *Response) FromWireStatus(payload []byte, statusLen int) (err error) {
	if statusLen != romStatusLen && statusLen != esp8266StatusLen {
		return fmt.Errorf("invalid status trailer length %d", statusLen)
	}
	return r.fromWire(payload, statusLen)
}

func (r *Response) fromWire(payload []byte, statusLen int) error {
	if len(payload) < headerLen {
		return errShortPacket
	}
	if payload[0] != directionResponse {
		return errNotResponse
	}
	size := int(binary.LittleEndian.Uint16(payload[2:4]))
	if size > len(payload)-headerLen {
		return errSizeMismatch
	}

	r.Command = Command(payload[1])
	r.Value = binary.LittleEndian.Uint32(payload[4:8])
	body := payload[headerLen : headerLen+size]
	if statusLen == 0 {
		statusLen = romStatusLen
		if len(body) < romStatusLen {
			statusLen = esp8266StatusLen
		}
	}
	if len(body) < statusLen {
		return fmt.Errorf("%s response carries no status bytes", r.Command)
	}
	statusAt := len(body) - statusLen
	r.Data = make([]byte, statusAt)
	copy(r.Data, body[:statusAt])
	r.Status = body[statusAt]
	r.Error = ErrorCode(body[statusAt+1])
	r.StatusLen = statusLen
	return nil
}

func (r *Response) ToWire() (payload []byte, err error) {
	statusLen := r.StatusLen
	if statusLen == 0 {
		statusLen = romStatusLen
	}
	size := len(r.Data) + statusLen
	if size > 0xffff {
		return nil, fmt.Errorf("response data too large: %d bytes", len(r.Data))
	}
	payload = make([]byte, headerLen+size)
	payload[0] = directionResponse
	payload[1] = byte(r.Command)
	binary.LittleEndian.PutUint16(payload[2:4], uint16(size))
	binary.LittleEndian.PutUint32(payload[4:8], r.Value)
	copy(payload[headerLen:], r.Data)
	payload[headerLen+len(r.Data)] = r.Status
	payload[headerLen+len(r.Data)+1] = byte(r.Error)
	return payload, nil
}

func (r *Response) IsSuccess() bool {
	return r.Status == 0
}

// Checksum is the XOR based checksum the ROM expects for data packets.
func Checksum(data []byte) uint32 {
	sum := checksumSeed
	for _, b := range data {
		sum ^= b
	}
	return uint32(sum)
}

// SyncData is the fixed synchronization probe: 07 07 12 20 followed by 32 x 0x55.
func SyncData() []byte {
	data := make([]byte, 36)
	copy(data, []byte{0x07, 0x07, 0x12, 0x20})
	for i := 4; i < len(data); i++ {
		data[i] = 0x55
	}
	return data
}

func readRegData(addr uint32) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, addr)
	return data
}

// flashBeginData is shared by FLASH_BEGIN and FLASH_DEFL_BEGIN. ROM loaders of
// chips newer than the ESP32 expect a trailing "encrypted" word.
func flashBeginData(eraseSize, numBlocks, blockSize, offset uint32, encryptedFlag bool) []byte {
	size := 16
	if encryptedFlag {
		size = 20
	}
	data := make([]byte, size)
	binary.LittleEndian.PutUint32(data[0:4], eraseSize)
	binary.LittleEndian.PutUint32(data[4:8], numBlocks)
	binary.LittleEndian.PutUint32(data[8:12], blockSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	return data
}

// flashBlockData prefixes a block with its 16 byte header (size, sequence, 0, 0).
func flashBlockData(block []byte, seq uint32) []byte {
	data := make([]byte, 16+len(block))
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(block)))
	binary.LittleEndian.PutUint32(data[4:8], seq)
	copy(data[16:], block)
	return data
}

func spiAttachData() []byte {
	return make([]byte, 8)
}

func md5Data(addr, size uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], addr)
	binary.LittleEndian.PutUint32(data[4:8], size)
	return data
}
