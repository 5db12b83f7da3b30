// Package codes maps the numeric enumeration codes used by the registry
// files onto the labels stored in the database.
package codes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrOutOfRange = errors.New("code out of range")
	ErrMalformed  = errors.New("malformed code")
)

const (
	CategoryNone = "none"
	UnitDefault  = "unit"
	FormUnknown  = "0000"
)

type Table struct {
	name   string
	labels map[int]string
}

var (
	ReceiverKinds = Table{name: "receiver_kind", labels: map[int]string{
		1: "ul",
		2: "fl",
		3: "npd",
	}}
	ReceiverCategories = Table{name: "receiver_category", labels: map[int]string{
		1: "micro",
		2: "small",
		3: "medium",
		4: CategoryNone,
	}}
	SizeUnits = Table{name: "size_unit", labels: map[int]string{
		1: "rouble",
		2: "sq_meter",
		3: "hour",
		4: "percent",
		5: UnitDefault,
	}}
)

var boolCodes = map[int]bool{1: true, 2: false}

var forms = map[string]struct{}{
	"0100": {}, "0200": {}, "0300": {}, "0400": {}, "0500": {},
	"0600": {}, "0700": {}, "0800": {}, "0900": {},
}

func (t Table) Name() string { return t.name }

func (t Table) Label(code int) (string, error) {
	label, ok := t.labels[code]
	if !ok {
		return "", fmt.Errorf("%s %d: %w", t.name, code, ErrOutOfRange)
	}
	return label, nil
}

// Lookup parses a textual code and resolves it.
func (t Table) Lookup(raw string) (string, error) {
	code, err := ParseCode(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", t.name, err)
	}
	return t.Label(code)
}

func ParseCode(raw string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%q: %w", raw, ErrMalformed)
	}
	return code, nil
}

// Bool resolves the 1/2 yes/no codes.
func Bool(raw string) (bool, error) {
	code, err := ParseCode(raw)
	if err != nil {
		return false, fmt.Errorf("flag: %w", err)
	}
	v, ok := boolCodes[code]
	if !ok {
		return false, fmt.Errorf("flag %d: %w", code, ErrOutOfRange)
	}
	return v, nil
}

// Form returns the form code when it belongs to the known set.
func Form(raw string) (string, bool) {
	code := strings.TrimSpace(raw)
	if _, ok := forms[code]; !ok {
		return FormUnknown, false
	}
	return code, true
}
