package wbp

import "hash/crc32"

// CRC32 computes the IEEE 802.3 checksum (poly 0xEDB88320, reflected)
// used everywhere in the container format and the stream commands.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CRC32Update continues a running checksum over a chunked stream.
func CRC32Update(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}
