package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"smbload/internal"
	"smbload/internal/markup"
)

const markupExt = ".xml"

// ProcessFile parses one registry file and normalizes every document in it.
// Files without the .xml extension are skipped. Problems never surface as
// Go errors: they are recorded as diagnostics and set the Failed flag.
func ProcessFile(path string) *FileResult {
	res := NewFileResult(path)
	if !strings.EqualFold(filepath.Ext(path), markupExt) {
		res.Skipped = true
		return res
	}

	f, err := os.Open(path)
	if err != nil {
		res.fail(internal.DiagStructural, "", fmt.Sprintf("open file: %v", err))
		return res
	}
	defer f.Close()

	processMarkup(f, res)
	return res
}

// ProcessReader is ProcessFile for content that is already open.
func ProcessReader(path string, r io.Reader) *FileResult {
	res := NewFileResult(path)
	processMarkup(r, res)
	return res
}

func processMarkup(r io.Reader, res *FileResult) {
	doc, err := markup.Parse(r)
	if err != nil {
		res.fail(internal.DiagStructural, "", err.Error())
		return
	}

	documents := doc.Find(elemDocument)
	if len(documents) == 0 {
		res.fail(internal.DiagStructural, elemDocument, "file contains no documents")
		return
	}

	res.Documents = len(documents)
	for _, document := range documents {
		if NormalizeDocument(document, res) {
			res.Failed = true
		}
	}
}

func (r *FileResult) fail(kind internal.DiagnosticKind, field, message string) {
	r.Failed = true
	r.Diagnostics = append(r.Diagnostics, internal.Diagnostic{
		Kind:    kind,
		File:    r.Name(),
		Field:   field,
		Message: message,
	})
}
