package canif

// CAN DLC to real data length conversion helpers.

var dlc2len = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

var len2dlc = [65]uint8{
	0, 1, 2, 3, 4, 5, 6, 7, 8, /* 0 - 8 */
	9, 9, 9, 9, /* 9 - 12 */
	10, 10, 10, 10, /* 13 - 16 */
	11, 11, 11, 11, /* 17 - 20 */
	12, 12, 12, 12, /* 21 - 24 */
	13, 13, 13, 13, 13, 13, 13, 13, /* 25 - 32 */
	14, 14, 14, 14, 14, 14, 14, 14, /* 33 - 40 */
	14, 14, 14, 14, 14, 14, 14, 14, /* 41 - 48 */
	15, 15, 15, 15, 15, 15, 15, 15, /* 49 - 56 */
	15, 15, 15, 15, 15, 15, 15, 15, /* 57 - 64 */
}

// DLCToLen returns the payload length for a data length code. Only the
// low 4 bits of dlc are significant.
func DLCToLen(dlc uint8) uint8 {
	return dlc2len[dlc&0x0F]
}

// SanitizeLength maps an arbitrary payload length to the smallest legal
// CAN-FD DLC whose length covers it. Lengths above 64 saturate to DLC 15.
func SanitizeLength(length int) uint8 {
	if length <= 0 {
		return 0
	}
	if length > 64 {
		return 0x0F
	}
	return len2dlc[length]
}

// IsErrorFrame reports whether a can_id carries the error frame flag.
func IsErrorFrame(id uint32) bool {
	return id&ErrFlag != 0
}
