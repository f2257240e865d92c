package delta

import "unicode/utf8"

// UTF16Len returns the length of s in UTF-16 code units, the unit every
// retain, delete and insert length in this package is measured in.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += runeUnits(r)
	}
	return n
}

func runeUnits(r rune) int {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}

// SplitsSurrogate reports whether the UTF-16 offset falls between the two
// halves of a surrogate pair in s.
func SplitsSurrogate(s string, offset int) bool {
	pos := 0
	for _, r := range s {
		if pos >= offset {
			return false
		}
		n := runeUnits(r)
		if offset < pos+n {
			return true
		}
		pos += n
	}
	return false
}

// sliceUTF16 returns the substring of s between the UTF-16 offsets start and
// end. It reports false when either offset falls inside a surrogate pair.
func sliceUTF16(s string, start, end int) (string, bool) {
	if start >= end {
		return "", true
	}
	pos := 0
	from, to := -1, len(s)
	for i, r := range s {
		if from < 0 && pos >= start {
			from = i
		}
		if pos >= end {
			to = i
			break
		}
		n := runeUnits(r)
		if (pos < start && start < pos+n) || (pos < end && end < pos+n) {
			return "", false
		}
		pos += n
	}
	if from < 0 {
		return "", true
	}
	return s[from:to], true
}
