package contract

import (
	"strconv"
	"strings"
)

func u8Literal(v uint8) string {
	return strconv.FormatUint(uint64(v), 10) + "u8"
}

func u64Literal(v uint64) string {
	return strconv.FormatUint(v, 10) + "u64"
}

func boolLiteral(v bool) string {
	return strconv.FormatBool(v)
}

func arrayLiteral(elems []string) string {
	return "[" + strings.Join(elems, ", ") + "]"
}
