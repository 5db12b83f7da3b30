package pipeline

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"smbload/internal"
	"smbload/internal/codes"
	"smbload/internal/markup"
	"smbload/internal/util"
)

// MaxSize is the exclusive upper bound on support sizes accepted by the store.
const MaxSize = 1e9

// SentinelDate replaces missing or malformed required dates.
var SentinelDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// fieldExtractor reads attributes of one document and records a diagnostic
// for every value it has to substitute. Required-hard accessors report
// whether the enclosing entity can be kept; all other accessors always
// return a usable value.
type fieldExtractor struct {
	file   string
	docID  string
	diags  []internal.Diagnostic
	failed bool
}

func newFieldExtractor(file, docID string) *fieldExtractor {
	return &fieldExtractor{file: file, docID: docID}
}

func (e *fieldExtractor) fail(kind internal.DiagnosticKind, field, format string, args ...any) {
	e.failed = true
	e.add(kind, false, field, fmt.Sprintf(format, args...))
}

func (e *fieldExtractor) warn(kind internal.DiagnosticKind, field, format string, args ...any) {
	e.add(kind, true, field, fmt.Sprintf(format, args...))
}

func (e *fieldExtractor) add(kind internal.DiagnosticKind, warning bool, field, message string) {
	e.diags = append(e.diags, internal.Diagnostic{
		Kind:    kind,
		Warning: warning,
		File:    e.file,
		DocID:   e.docID,
		Field:   field,
		Message: message,
	})
}

// key reads an identifier the entity cannot exist without.
func (e *fieldExtractor) key(n markup.Node, path, attr string) (string, bool) {
	raw, _ := n.Attr(attr)
	key := util.NormalizeTIN(raw)
	if key == "" {
		e.fail(internal.DiagUnrecoverable, fieldName(path, attr), "missing identifier")
		return "", false
	}
	return key, true
}

func (e *fieldExtractor) text(n markup.Node, path, attr string) string {
	raw, _ := n.Attr(attr)
	value := util.NormalizeSpaces(raw)
	if value == "" {
		e.fail(internal.DiagMissingField, fieldName(path, attr), "missing, using empty value")
	}
	return value
}

func (e *fieldExtractor) optionalText(n markup.Node, attr string) string {
	raw, _ := n.Attr(attr)
	return util.NormalizeSpaces(raw)
}

func (e *fieldExtractor) date(n markup.Node, path, attr string) time.Time {
	raw, ok := n.Attr(attr)
	if !ok || strings.TrimSpace(raw) == "" {
		e.fail(internal.DiagMissingField, fieldName(path, attr), "missing date, using %s", SentinelDate.Format(util.DateLayout))
		return SentinelDate
	}
	parsed, err := util.ParseDate(raw)
	if err != nil {
		e.fail(internal.DiagMalformedValue, fieldName(path, attr), "malformed date %q, using %s", raw, SentinelDate.Format(util.DateLayout))
		return SentinelDate
	}
	return parsed
}

// optionalDate returns nil when the attribute is absent. A present but
// malformed value still degrades to the sentinel.
func (e *fieldExtractor) optionalDate(n markup.Node, path, attr string) *time.Time {
	raw, ok := n.Attr(attr)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	parsed, err := util.ParseDate(raw)
	if err != nil {
		e.fail(internal.DiagMalformedValue, fieldName(path, attr), "malformed date %q, using %s", raw, SentinelDate.Format(util.DateLayout))
		return util.TimePtr(SentinelDate)
	}
	return &parsed
}

func (e *fieldExtractor) label(n markup.Node, path, attr string, table codes.Table, fallback string) string {
	raw, ok := n.Attr(attr)
	if !ok || strings.TrimSpace(raw) == "" {
		e.fail(internal.DiagMissingField, fieldName(path, attr), "missing %s, using %q", table.Name(), fallback)
		return fallback
	}
	value, err := table.Lookup(raw)
	if err != nil {
		e.fail(internal.DiagMalformedValue, fieldName(path, attr), "%v, using %q", err, fallback)
		return fallback
	}
	return value
}

// optionalLabel resolves a nullable code: absence is only a warning, an
// unrecognized code degrades the document.
func (e *fieldExtractor) optionalLabel(n markup.Node, path, attr string, table codes.Table) *string {
	raw, ok := n.Attr(attr)
	if !ok || strings.TrimSpace(raw) == "" {
		e.warn(internal.DiagMissingField, fieldName(path, attr), "missing %s, stored as null", table.Name())
		return nil
	}
	value, err := table.Lookup(raw)
	if err != nil {
		e.fail(internal.DiagMalformedValue, fieldName(path, attr), "%v, stored as null", err)
		return nil
	}
	return &value
}

func (e *fieldExtractor) flag(n markup.Node, path, attr string) bool {
	raw, ok := n.Attr(attr)
	if !ok || strings.TrimSpace(raw) == "" {
		e.fail(internal.DiagMissingField, fieldName(path, attr), "missing flag, using false")
		return false
	}
	value, err := codes.Bool(raw)
	if err != nil {
		e.fail(internal.DiagMalformedValue, fieldName(path, attr), "%v, using false", err)
		return false
	}
	return value
}

func (e *fieldExtractor) form(n markup.Node, path, attr string) string {
	raw, ok := n.Attr(attr)
	if !ok || strings.TrimSpace(raw) == "" {
		e.fail(internal.DiagMissingField, fieldName(path, attr), "missing form code, using %s", codes.FormUnknown)
		return codes.FormUnknown
	}
	code, known := codes.Form(raw)
	if !known {
		e.fail(internal.DiagMalformedValue, fieldName(path, attr), "unknown form code %q, using %s", raw, codes.FormUnknown)
	}
	return code
}

func (e *fieldExtractor) size(n markup.Node, path, attr string) float64 {
	raw, ok := n.Attr(attr)
	if !ok || strings.TrimSpace(raw) == "" {
		e.fail(internal.DiagMissingField, fieldName(path, attr), "missing size, using 0")
		return 0
	}
	value, err := util.ParseDecimal(raw)
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = errors.New("not a finite number")
	}
	if err != nil {
		e.fail(internal.DiagMalformedValue, fieldName(path, attr), "malformed size %q, using 0", raw)
		return 0
	}
	if math.Abs(value) >= MaxSize {
		e.fail(internal.DiagMalformedValue, fieldName(path, attr), "size %s exceeds storage limit, using 0", raw)
		return 0
	}
	return value
}

func fieldName(path, attr string) string {
	if attr == "" {
		return path
	}
	return path + "@" + attr
}

func elemPath(parts ...string) string {
	return strings.Join(parts, "/")
}
