package plc_modbus

// CRC16 returns the Modbus RTU checksum of data (reflected polynomial 0xA001, seed 0xFFFF).
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// AppendCRC appends the checksum of frame, low byte first.
func AppendCRC(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// CheckCRC reports whether the last two bytes of frame are the checksum of the rest.
func CheckCRC(frame []byte) bool {
	if len(frame) < 3 {
		return false
	}
	crc := CRC16(frame[:len(frame)-2])
	return frame[len(frame)-2] == byte(crc) && frame[len(frame)-1] == byte(crc>>8)
}
