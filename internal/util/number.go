package util

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "02.01.2006"

var reThousandsSpace = regexp.MustCompile(`^\d{1,3}(?:\s\d{3})+(?:[.,]\d+)?$`)

var errEmpty = errors.New("empty value")

// ParseDecimal parses registry amounts such as "150000.00", "1 500,5" or
// "1 000". A dot is always the decimal separator.
func ParseDecimal(input string) (float64, error) {
	token := normalizeNumericToken(input)
	if token == "" {
		return 0, errEmpty
	}
	return strconv.ParseFloat(token, 64)
}

// ParseDate parses the dd.mm.yyyy dates used throughout the registry.
func ParseDate(input string) (time.Time, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return time.Time{}, errEmpty
	}
	return time.Parse(DateLayout, value)
}

func normalizeNumericToken(token string) string {
	compact := strings.TrimSpace(strings.ReplaceAll(token, "\u00a0", " "))
	if reThousandsSpace.MatchString(compact) {
		compact = reSpaces.ReplaceAllString(compact, "")
	}
	if strings.Contains(compact, ",") && !strings.Contains(compact, ".") {
		compact = strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
