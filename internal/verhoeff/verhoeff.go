// Package verhoeff converts internal bug ids to human-facing bug numbers by
// appending a Verhoeff check digit. The checksum catches every single-digit
// error and every adjacent transposition.
package verhoeff

import (
	"strconv"
)

// d is the multiplication table of the dihedral group D5.
var d = [10][10]int{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
	{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
	{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
	{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
	{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
	{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
	{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
	{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
	{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
}

// p is the permutation table applied per digit position.
var p = [8][10]int{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
	{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
	{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
	{9, 4, 5, 3, 1, 2, 7, 6, 8, 0},
	{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
	{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
	{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
}

// inv is the inverse table of d.
var inv = [10]int{0, 4, 3, 2, 1, 5, 6, 7, 8, 9}

// checksum folds the digits of s from the right. offset is 1 when s does not
// yet carry a check digit.
func checksum(s string, offset int) (int, bool) {
	c := 0
	for i := 0; i < len(s); i++ {
		ch := s[len(s)-1-i]
		if ch < '0' || ch > '9' {
			return 0, false
		}
		c = d[c][p[(i+offset)%8][ch-'0']]
	}
	return c, true
}

// CheckDigit computes the check digit for a string of decimal digits.
func CheckDigit(digits string) (byte, bool) {
	if digits == "" {
		return 0, false
	}
	c, ok := checksum(digits, 1)
	if !ok {
		return 0, false
	}
	return byte('0' + inv[c]), true
}

// Encode returns the bug number for id: its decimal form plus one check digit.
func Encode(id int64) string {
	digits := strconv.FormatInt(id, 10)
	check, _ := CheckDigit(digits)
	return digits + string(check)
}

// Validate reports whether number is a decimal string whose last digit is
// the correct check digit for the rest.
func Validate(number string) bool {
	if len(number) < 2 {
		return false
	}
	c, ok := checksum(number, 0)
	return ok && c == 0
}

// Decode recovers the id from a bug number. It reports false when the
// checksum does not match or the number is malformed; callers must treat
// that the same way as a missing bug.
func Decode(number string) (int64, bool) {
	if !Validate(number) {
		return 0, false
	}
	id, err := strconv.ParseInt(number[:len(number)-1], 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
