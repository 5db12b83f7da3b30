package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"smbload/internal"
)

func TestProcessFileContinuesAfterBrokenDocument(t *testing.T) {
	res := ProcessFile(filepath.Join("testdata", "mixed.xml"))
	assert.True(t, res.Failed)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, OutcomeDegraded, res.Outcome())

	assert.Equal(t, []string{"500100732259"}, res.Receivers.Keys())
	name, _ := res.Receivers.Name("500100732259")
	assert.Equal(t, "Петрова Анна", name)
	assert.Equal(t, []string{"5001000001"}, res.Providers.Keys())
	require.Len(t, res.Measures, 1)
	assert.InDelta(t, 12.5, res.Measures[0].Size, 1e-9)
	assert.Equal(t, "hour", res.Measures[0].SizeUnit)
	assert.Equal(t, "doc-ip", res.Measures[0].DocID)
}

func TestProcessFileSkipsNonMarkup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("<Документ/>"), 0o644))

	res := ProcessFile(path)
	assert.True(t, res.Skipped)
	assert.False(t, res.Failed)
	assert.Empty(t, res.Diagnostics)
	assert.Equal(t, OutcomeSkipped, res.Outcome())
}

func TestProcessFileUppercaseExtension(t *testing.T) {
	blob, err := os.ReadFile(filepath.Join("testdata", "romashka.xml"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ROMASHKA.XML")
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	res := ProcessFile(path)
	assert.False(t, res.Skipped)
	assert.Equal(t, OutcomeValid, res.Outcome())
	assert.Len(t, res.Measures, 2)
}

func TestProcessFileMissing(t *testing.T) {
	res := ProcessFile(filepath.Join(t.TempDir(), "gone.xml"))
	assert.True(t, res.Failed)
	assert.Equal(t, OutcomeFailed, res.Outcome())
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, internal.DiagStructural, res.Diagnostics[0].Kind)
}

func TestProcessReader(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"no documents", `<Файл ИдФайл="x"/>`},
		{"truncated", `<Файл><Документ ИдДок="a">`},
		{"empty", ``},
		{"not markup", `hello`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ProcessReader("broken.xml", strings.NewReader(tc.src))
			assert.True(t, res.Failed)
			assert.Zero(t, res.Documents)
			assert.False(t, res.Usable())
			require.NotEmpty(t, res.Diagnostics)
			assert.Equal(t, internal.DiagStructural, res.Diagnostics[0].Kind)
			assert.Equal(t, "broken.xml", res.Diagnostics[0].File)
		})
	}
}

func TestProcessReaderWindows1251(t *testing.T) {
	src := "<?xml version=\"1.0\" encoding=\"windows-1251\"?>\n" +
		"<Файл><Документ ИдДок=\"w\"><СвЮЛ ИННЮЛ=\"1234567890\" НаимОрг=\"ООО Ромашка\"/>" +
		"<СвПредПод ИННЮЛ=\"7701\" НаимОрг=\"Фонд\" ВидПП=\"1\" КатСуб=\"1\" СрокПод=\"01.01.2024\" ДатаПрин=\"01.01.2024\">" +
		entryTail + "<РазмПод РазмПод=\"1\" ЕдПод=\"1\"/></СвПредПод></Документ></Файл>"
	encoded := encode1251(t, src)

	res := ProcessReader("cp1251.xml", strings.NewReader(encoded))
	require.False(t, res.Failed, "diagnostics: %v", res.Diagnostics)
	name, _ := res.Receivers.Name("1234567890")
	assert.Equal(t, "ООО Ромашка", name)
}

func encode1251(t *testing.T, src string) string {
	t.Helper()
	out, err := charmap.Windows1251.NewEncoder().String(src)
	require.NoError(t, err)
	return out
}
