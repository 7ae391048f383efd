package common

import "strings"

// NormalizeISBN strips hyphens/spaces and upper-cases the check digit.
// Returns "" when the remainder is not a plausible ISBN-10 or ISBN-13.
func NormalizeISBN(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteByte('X')
		case r == '-' || r == ' ':
		default:
			return ""
		}
	}
	value := b.String()
	switch len(value) {
	case 10:
		return value
	case 13:
		if strings.ContainsRune(value, 'X') {
			return ""
		}
		return value
	default:
		return ""
	}
}

// IsISBN reports whether raw normalizes to a valid-length ISBN with a
// correct check digit.
func IsISBN(raw string) bool {
	value := NormalizeISBN(raw)
	switch len(value) {
	case 10:
		return checkISBN10(value)
	case 13:
		return checkISBN13(value)
	default:
		return false
	}
}

// ISBN10To13 converts a normalized ISBN-10 to its 978-prefixed ISBN-13 form.
func ISBN10To13(isbn10 string) string {
	value := NormalizeISBN(isbn10)
	if len(value) != 10 {
		return ""
	}
	core := "978" + value[:9]
	sum := 0
	for i, r := range core {
		digit := int(r - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	check := (10 - sum%10) % 10
	return core + string(rune('0'+check))
}

func checkISBN10(value string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		digit := 0
		if value[i] == 'X' {
			if i != 9 {
				return false
			}
			digit = 10
		} else {
			digit = int(value[i] - '0')
		}
		sum += digit * (10 - i)
	}
	return sum%11 == 0
}

func checkISBN13(value string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		digit := int(value[i] - '0')
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}
	return sum%10 == 0
}
