package plc_modbus

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	FUNC_READ_HOLDING_REGISTERS byte = 0x03
	FUNC_WRITE_SINGLE_COIL      byte = 0x05
	EXCEPTION_FLAG              byte = 0x80

	COIL_VALUE_ON  uint16 = 0xFF00
	COIL_VALUE_OFF uint16 = 0x0000

	MBAP_HEADER_LEN     = 7
	MAX_READ_QUANTITY   = 125
	RTU_EXCEPTION_LEN   = 5
	RTU_WRITE_REPLY_LEN = 8
	TCP_WRITE_REPLY_LEN = MBAP_HEADER_LEN + 5
)

func readRegistersPDU(start, count uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = FUNC_READ_HOLDING_REGISTERS
	binary.BigEndian.PutUint16(pdu[1:], start)
	binary.BigEndian.PutUint16(pdu[3:], count)
	return pdu
}

func writeCoilPDU(addr uint16, value bool) []byte {
	pdu := make([]byte, 5)
	pdu[0] = FUNC_WRITE_SINGLE_COIL
	binary.BigEndian.PutUint16(pdu[1:], addr)
	if value {
		binary.BigEndian.PutUint16(pdu[3:], COIL_VALUE_ON)
	} else {
		binary.BigEndian.PutUint16(pdu[3:], COIL_VALUE_OFF)
	}
	return pdu
}

func checkQuantity(count uint16) error {
	if count == 0 || count > MAX_READ_QUANTITY {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, count)
	}
	return nil
}

// BuildRTUReadRequest builds a read holding registers frame: slave, 0x03, start, count, crc.
func BuildRTUReadRequest(slave byte, start, count uint16) []byte {
	frame := append([]byte{slave}, readRegistersPDU(start, count)...)
	return AppendCRC(frame)
}

// BuildRTUWriteCoilRequest builds a write single coil frame: slave, 0x05, addr, 0xFF00|0x0000, crc.
func BuildRTUWriteCoilRequest(slave byte, addr uint16, value bool) []byte {
	frame := append([]byte{slave}, writeCoilPDU(addr, value)...)
	return AppendCRC(frame)
}

// RTUReadReplyLength is the length of a successful read reply for count registers.
func RTUReadReplyLength(count uint16) int {
	return 5 + 2*int(count)
}

// ParseRTUReadReply validates a read reply and returns its register values.
func ParseRTUReadReply(slave byte, count uint16, frame []byte) ([]uint16, error) {
	if len(frame) >= 2 && frame[1]&EXCEPTION_FLAG != 0 {
		return nil, parseRTUException(frame)
	}
	expected := RTUReadReplyLength(count)
	if len(frame) < expected {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, len(frame), expected)
	}
	frame = frame[:expected]
	if !CheckCRC(frame) {
		return nil, ErrChecksumFailed
	}
	if frame[0] != slave {
		return nil, fmt.Errorf("%w: slave %d, expected %d", ErrUnexpectedReply, frame[0], slave)
	}
	return parseRegistersPDU(frame[1:len(frame)-2], count)
}

// ParseRTUWriteCoilReply checks that reply is the echo of request.
func ParseRTUWriteCoilReply(request, reply []byte) error {
	if len(reply) >= 2 && reply[1]&EXCEPTION_FLAG != 0 {
		return parseRTUException(reply)
	}
	if len(reply) < RTU_WRITE_REPLY_LEN {
		return fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, len(reply), RTU_WRITE_REPLY_LEN)
	}
	reply = reply[:RTU_WRITE_REPLY_LEN]
	if !CheckCRC(reply) {
		return ErrChecksumFailed
	}
	if !bytes.Equal(request, reply) {
		return fmt.Errorf("%w: coil write echo mismatch", ErrUnexpectedReply)
	}
	return nil
}

func parseRTUException(frame []byte) error {
	if len(frame) < RTU_EXCEPTION_LEN {
		return fmt.Errorf("%w: exception frame of %d bytes", ErrIncomplete, len(frame))
	}
	frame = frame[:RTU_EXCEPTION_LEN]
	if !CheckCRC(frame) {
		return ErrChecksumFailed
	}
	return &ExceptionError{Function: frame[1] &^ EXCEPTION_FLAG, Code: frame[2]}
}

func parseRegistersPDU(pdu []byte, count uint16) ([]uint16, error) {
	if len(pdu) < 2 {
		return nil, ErrIncomplete
	}
	if pdu[0]&EXCEPTION_FLAG != 0 {
		return nil, &ExceptionError{Function: pdu[0] &^ EXCEPTION_FLAG, Code: pdu[1]}
	}
	if pdu[0] != FUNC_READ_HOLDING_REGISTERS {
		return nil, fmt.Errorf("%w: function 0x%02x", ErrUnexpectedReply, pdu[0])
	}
	if int(pdu[1]) != 2*int(count) {
		return nil, fmt.Errorf("%w: byte count %d for %d registers", ErrUnexpectedReply, pdu[1], count)
	}
	if len(pdu) < 2+2*int(count) {
		return nil, ErrIncomplete
	}
	regs := make([]uint16, count)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(pdu[2+2*i:])
	}
	return regs, nil
}

// BuildTCPFrame prefixes pdu with the MBAP header: tid, protocol 0, length, unit.
func BuildTCPFrame(tid uint16, unit byte, pdu []byte) []byte {
	frame := make([]byte, MBAP_HEADER_LEN, MBAP_HEADER_LEN+len(pdu))
	binary.BigEndian.PutUint16(frame[0:], tid)
	binary.BigEndian.PutUint16(frame[2:], 0)
	binary.BigEndian.PutUint16(frame[4:], uint16(len(pdu)+1))
	frame[6] = unit
	return append(frame, pdu...)
}

// mbapHeader is the decoded 7 byte TCP header.
type mbapHeader struct {
	tid      uint16
	protocol uint16
	length   uint16
	unit     byte
}

func parseMBAPHeader(b []byte) (mbapHeader, error) {
	if len(b) < MBAP_HEADER_LEN {
		return mbapHeader{}, ErrIncomplete
	}
	h := mbapHeader{
		tid:      binary.BigEndian.Uint16(b[0:]),
		protocol: binary.BigEndian.Uint16(b[2:]),
		length:   binary.BigEndian.Uint16(b[4:]),
		unit:     b[6],
	}
	if h.protocol != 0 {
		return h, fmt.Errorf("%w: protocol id %d", ErrUnexpectedReply, h.protocol)
	}
	if h.length < 2 || h.length > 254 {
		return h, fmt.Errorf("%w: length %d", ErrUnexpectedReply, h.length)
	}
	return h, nil
}
