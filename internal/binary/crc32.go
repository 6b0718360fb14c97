package binary

import "hash/crc32"

// crcTable is the IEEE 802.3 polynomial table (0xEDB88320), matching the
// standard library's crc32.IEEETable — named explicitly per §4.1 so the
// polynomial choice is visible at the call site rather than hidden behind a
// generic "checksum" helper.
var crcTable = crc32.IEEETable

// CRC32 computes the IEEE 802.3 CRC32 of data: initial 0xFFFFFFFF, final
// XOR 0xFFFFFFFF, table-based — exactly what crc32.ChecksumIEEE does, kept
// as a named wrapper so GraphCol framing code reads as intentional about
// which CRC variant it depends on.
func CRC32(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}
