package bcache

// Checksum computes the CRC-16/CCITT-FALSE of `data`: polynomial 0x1021,
// initial value 0xFFFF, most significant bit first, no final XOR.
func Checksum(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
