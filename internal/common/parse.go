package common

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseBlockNumber parses a block number given either in decimal or in
// 0x-prefixed hex, the two forms chain tooling commonly hands around.
// Used by the --starting-block flag.
func ParseBlockNumber(s string) (uint64, error) {
	str := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		str = str[2:]
		base = 16
	}
	n, err := strconv.ParseUint(str, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block number %q: %w", s, err)
	}
	return n, nil
}

const bytesInMB = 1024 * 1024

// MBToBytes converts a size expressed in whole megabytes to bytes, for
// config knobs that are friendlier in MB.
func MBToBytes(mb uint64) uint64 {
	return mb * bytesInMB
}

// BytesToMB converts a byte count to whole megabytes, rounding down.
func BytesToMB(bytes uint64) uint64 {
	return bytes / bytesInMB
}

// ToLowerWithTrim normalizes user-supplied enum-ish strings (chain kind,
// finality tier) before comparison.
func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
