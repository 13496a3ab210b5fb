package classify

import (
	"regexp"
	"strconv"
	"strings"
)

// Fill patterns written by debug allocators and runtimes into freed or
// uninitialized memory.
var poisonPatterns = []uint32{
	0xCDCDCDCD, // MSVC debug heap, uninitialized heap
	0xCCCCCCCC, // MSVC uninitialized stack
	0xDDDDDDDD, // MSVC freed heap
	0xFEEEFEEE, // HeapFree
	0xBAADF00D, // LocalAlloc(LMEM_FIXED)
	0xABABABAB, // HeapAlloc guard bytes
	0xFDFDFDFD, // MSVC no-man's land
	0xDEADBEEF,
}

var (
	poisonHex     []string
	poisonDecimal map[string]uint32

	hexToken = regexp.MustCompile(`0[xX][0-9a-fA-F]+`)
	decToken = regexp.MustCompile(`-?\d+`)
)

func init() {
	poisonDecimal = make(map[string]uint32)
	for _, p := range poisonPatterns {
		poisonHex = append(poisonHex, "0x"+strconv.FormatUint(uint64(p), 16))

		wide := uint64(p)<<32 | uint64(p)
		for _, s := range []string{
			strconv.FormatUint(uint64(p), 10),
			strconv.FormatInt(int64(int32(p)), 10),
			strconv.FormatUint(wide, 10),
			strconv.FormatInt(int64(wide), 10),
		} {
			poisonDecimal[s] = p
		}
	}
}

// DetectPoison reports whether value contains a known fill pattern, in hex
// or as a signed or unsigned decimal rendering of its 32-bit or 64-bit
// repetition. The returned evidence names the pattern and the token that
// matched.
func DetectPoison(value string) (string, bool) {
	lower := strings.ToLower(value)
	for _, h := range poisonHex {
		if strings.Contains(lower, h) {
			return "poison pattern " + h, true
		}
	}
	for _, tok := range decToken.FindAllString(value, -1) {
		if p, ok := poisonDecimal[tok]; ok {
			return "poison pattern 0x" + strconv.FormatUint(uint64(p), 16) + " (" + tok + ")", true
		}
	}
	return "", false
}

// DetectSentinel reports whether value contains one of the backend's
// invalid-value strings.
func DetectSentinel(value string, sentinels []string) (string, bool) {
	for _, s := range sentinels {
		if strings.Contains(value, s) {
			return "sentinel " + strconv.Quote(s), true
		}
	}
	return "", false
}

// IsNullPointer reports whether a pointer value as printed by a debugger is
// null: "0x0", "(cv::Mat *) 0x0000000000000000", "0", "nullptr" or "NULL".
func IsNullPointer(value string) bool {
	v := strings.TrimSpace(value)
	if h := hexToken.FindString(v); h != "" {
		n, err := strconv.ParseUint(h[2:], 16, 64)
		return err == nil && n == 0
	}
	switch strings.ToLower(v) {
	case "0", "nullptr", "null", "(null)":
		return true
	}
	return false
}

// parseCount extracts the first integer printed in a debugger value. GDB may
// append a character rendering ("3 '\003'"), LLDB may print hex.
func parseCount(value string) (int64, bool) {
	v := strings.TrimSpace(value)
	if h := hexToken.FindString(v); h != "" && strings.HasPrefix(v, h) {
		n, err := strconv.ParseUint(h[2:], 16, 64)
		return int64(n), err == nil
	}
	tok := decToken.FindString(v)
	if tok == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
