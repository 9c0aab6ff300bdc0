package plc_modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rtuReadReply(slave byte, regs ...uint16) []byte {
	frame := []byte{slave, FUNC_READ_HOLDING_REGISTERS, byte(2 * len(regs))}
	for _, r := range regs {
		frame = append(frame, byte(r>>8), byte(r))
	}
	return AppendCRC(frame)
}

func TestBuildRTURequests(t *testing.T) {

	assert := assert.New(t)

	assert.Equal([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}, BuildRTUReadRequest(1, 0, 10))

	on := BuildRTUWriteCoilRequest(1, 2, true)
	assert.Equal([]byte{0x01, 0x05, 0x00, 0x02, 0xFF, 0x00}, on[:6])
	assert.True(CheckCRC(on))

	off := BuildRTUWriteCoilRequest(1, 2, false)
	assert.Equal([]byte{0x01, 0x05, 0x00, 0x02, 0x00, 0x00}, off[:6])
	assert.True(CheckCRC(off))
}

func TestParseRTUReadReply(t *testing.T) {

	assert := assert.New(t)

	reply := rtuReadReply(1, 1215, 152)
	assert.Len(reply, RTUReadReplyLength(2))

	regs, err := ParseRTUReadReply(1, 2, reply)
	require.NoError(t, err)
	assert.Equal([]uint16{1215, 152}, regs)

	_, err = ParseRTUReadReply(1, 2, reply[:len(reply)-1])
	assert.ErrorIs(err, ErrIncomplete)

	corrupt := append([]byte(nil), reply...)
	corrupt[4] ^= 0x01
	_, err = ParseRTUReadReply(1, 2, corrupt)
	assert.ErrorIs(err, ErrChecksumFailed)

	_, err = ParseRTUReadReply(2, 2, reply)
	assert.ErrorIs(err, ErrUnexpectedReply)

	_, err = ParseRTUReadReply(1, 3, append(reply, 0, 0))
	assert.Error(err)
}

func TestParseRTUException(t *testing.T) {

	assert := assert.New(t)

	reply := AppendCRC([]byte{0x01, 0x83, 0x02})
	_, err := ParseRTUReadReply(1, 12, reply)

	var excErr *ExceptionError
	require.ErrorAs(t, err, &excErr)
	assert.Equal(FUNC_READ_HOLDING_REGISTERS, excErr.Function)
	assert.Equal(byte(0x02), excErr.Code)
	assert.True(IsSoftError(err))
}

func TestParseRTUWriteCoilReply(t *testing.T) {

	assert := assert.New(t)

	req := BuildRTUWriteCoilRequest(3, 0, true)
	assert.NoError(ParseRTUWriteCoilReply(req, req))
	assert.ErrorIs(ParseRTUWriteCoilReply(req, req[:6]), ErrIncomplete)
	assert.ErrorIs(ParseRTUWriteCoilReply(req, BuildRTUWriteCoilRequest(3, 0, false)), ErrUnexpectedReply)
}

func TestBuildTCPFrame(t *testing.T) {

	assert := assert.New(t)

	frame := BuildTCPFrame(0x0102, 7, readRegistersPDU(0, 12))
	assert.Equal([]byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x06, 0x07, 0x03, 0x00, 0x00, 0x00, 0x0C}, frame)

	h, err := parseMBAPHeader(frame)
	require.NoError(t, err)
	assert.Equal(uint16(0x0102), h.tid)
	assert.Equal(uint16(6), h.length)
	assert.Equal(byte(7), h.unit)
}

func TestParseRegistersPDU(t *testing.T) {

	assert := assert.New(t)

	regs, err := parseRegistersPDU([]byte{0x03, 0x04, 0x04, 0xBF, 0x00, 0x98}, 2)
	require.NoError(t, err)
	assert.Equal([]uint16{1215, 152}, regs)

	_, err = parseRegistersPDU([]byte{0x03, 0x04, 0x04, 0xBF}, 2)
	assert.ErrorIs(err, ErrIncomplete)

	_, err = parseRegistersPDU([]byte{0x04, 0x04, 0x04, 0xBF, 0x00, 0x98}, 2)
	assert.ErrorIs(err, ErrUnexpectedReply)
}
