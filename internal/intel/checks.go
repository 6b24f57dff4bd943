package intel

import (
	"encoding/base64"
	"encoding/json"
	"math/big"
	"regexp"
	"strings"
)

// digitsOnly strips everything but ASCII digits.
func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// luhnValid reports whether the digits of s pass the Luhn checksum and have a
// card-like length.
func luhnValid(s string) bool {
	digits := digitsOnly(s)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

var digitGroupRe = regexp.MustCompile(`\d+`)

// cardRuns splits a digit run that failed Luhn as a whole, such as a card
// followed by its CVV, into candidate cards. Candidates start and end on
// group boundaries and hold 13 to 19 digits. Scanning left to right, the
// longest passing candidate at each group wins and the next search starts
// after it.
func cardRuns(value string) [][2]int {
	groups := digitGroupRe.FindAllStringIndex(value, -1)
	var out [][2]int
	for i := 0; i < len(groups); {
		next := i + 1
		for j := len(groups) - 1; j >= i; j-- {
			sp := [2]int{groups[i][0], groups[j][1]}
			if n := len(digitsOnly(value[sp[0]:sp[1]])); n < 13 || n > 19 {
				continue
			}
			if luhnValid(value[sp[0]:sp[1]]) {
				out = append(out, sp)
				next = j + 1
				break
			}
		}
		i = next
	}
	return out
}

// ssnValid rejects numbers the SSA never issues.
func ssnValid(s string) bool {
	digits := digitsOnly(s)
	if len(digits) != 9 {
		return false
	}
	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

// ibanValid runs the ISO 13616 mod-97 check.
func ibanValid(s string) bool {
	compact := strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	if len(compact) < 15 || len(compact) > 34 {
		return false
	}
	rearranged := compact[4:] + compact[:4]
	var b strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteString(big.NewInt(int64(r-'A') + 10).String())
		default:
			return false
		}
	}
	n, ok := new(big.Int).SetString(b.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

// jwtValid checks that the header segment decodes to a JSON object naming an
// algorithm.
func jwtValid(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[0], "="))
	if err != nil {
		return false
	}
	var header map[string]any
	if err := json.Unmarshal(raw, &header); err != nil {
		return false
	}
	_, ok := header["alg"]
	return ok
}
