package pipeline

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smbload/internal"
	"smbload/internal/codes"
	"smbload/internal/markup"
	"smbload/internal/util"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalize(t *testing.T, src string) (*FileResult, bool) {
	t.Helper()
	doc, err := markup.Parse(strings.NewReader(src))
	require.NoError(t, err)
	documents := doc.Find(elemDocument)
	require.Len(t, documents, 1)
	acc := NewFileResult("test.xml")
	return acc, NormalizeDocument(documents[0], acc)
}

const entryTail = `<ФормПод КодФорм="0100"/>
      <ВидПод КодВид="0101" НаимВид="Субсидия"/>
      <ИнфНаруш ИнфНаруш="2" ИнфНецел="1"/>`

func TestNormalizeEndToEnd(t *testing.T) {
	res := ProcessFile(filepath.Join("testdata", "romashka.xml"))
	require.False(t, res.Failed, "diagnostics: %v", res.Diagnostics)
	assert.Equal(t, 1, res.Documents)

	assert.Equal(t, []string{"1234567890"}, res.Receivers.Keys())
	name, _ := res.Receivers.Name("1234567890")
	assert.Equal(t, "ООО Ромашка", name)
	assert.Equal(t, []string{"7701234567"}, res.Providers.Keys())
	assert.Equal(t, []string{"0101"}, res.Kinds.Keys())
	kindName, _ := res.Kinds.Name("0101")
	assert.Equal(t, "Субсидия на возмещение затрат", kindName)

	base := internal.SupportMeasure{
		Period:           date(2023, time.December, 31),
		StartDate:        date(2023, time.March, 15),
		EndDate:          util.TimePtr(date(2023, time.December, 31)),
		ReceiverKind:     util.StringPtr("ul"),
		ReceiverCategory: "micro",
		Receiver:         "1234567890",
		Provider:         "7701234567",
		Kind:             "0101",
		Form:             "0100",
		SourceFile:       "romashka.xml",
		DocID:            "3f1c2a9e-0001",
	}
	first, second := base, base
	first.Size, first.SizeUnit = 100, "rouble"
	second.Size, second.SizeUnit = 50, "percent"

	if diff := cmp.Diff([]internal.SupportMeasure{first, second}, res.Measures); diff != "" {
		t.Fatalf("measures mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeIndividualReceiver(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d">
  <СвФЛ ИННФЛ="500100732259"><ФИО Фамилия="Иванов" Имя="Иван" Отчество="Иванович"/></СвФЛ>
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд" ВидПП="2" КатСуб="3" СрокПод="01.01.2024" ДатаПрин="01.01.2024">
    `+entryTail+`
    <РазмПод РазмПод="5" ЕдПод="2"/>
  </СвПредПод>
</Документ>`)
	assert.False(t, failed, "diagnostics: %v", acc.Diagnostics)
	name, _ := acc.Receivers.Name("500100732259")
	assert.Equal(t, "Иванов Иван Иванович", name)
	require.Len(t, acc.Measures, 1)
	m := acc.Measures[0]
	assert.Equal(t, "fl", *m.ReceiverKind)
	assert.Equal(t, "medium", m.ReceiverCategory)
	assert.Equal(t, "sq_meter", m.SizeUnit)
	assert.Nil(t, m.EndDate)
	assert.False(t, m.Violation)
	assert.True(t, m.Misuse)
}

func TestNormalizeNoReceiver(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d">
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд" ВидПП="1" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">
    `+entryTail+`
    <РазмПод РазмПод="5" ЕдПод="1"/>
  </СвПредПод>
</Документ>`)
	assert.True(t, failed)
	assert.Zero(t, acc.Receivers.Len())
	assert.Zero(t, acc.Providers.Len())
	assert.Empty(t, acc.Measures)
	assert.False(t, acc.Usable())
}

func TestNormalizeIndividualWithoutTIN(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d">
  <СвФЛ><ФИО Фамилия="Иванов" Имя="Иван"/></СвФЛ>
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд" ВидПП="2" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">
    `+entryTail+`
  </СвПредПод>
</Документ>`)
	assert.True(t, failed)
	assert.False(t, acc.Usable())
	require.Len(t, acc.Diagnostics, 1)
	assert.Equal(t, internal.DiagUnrecoverable, acc.Diagnostics[0].Kind)
	assert.Equal(t, "d", acc.Diagnostics[0].DocID)
}

func TestNormalizeBothShapesPrefersIndividual(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d">
  <СвФЛ ИННФЛ="500100732259"><ФИО Фамилия="Иванов" Имя="Иван"/></СвФЛ>
  <СвЮЛ ИННЮЛ="1234567890" НаимОрг="ООО Ромашка"/>
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд" ВидПП="2" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">
    `+entryTail+`
    <РазмПод РазмПод="5" ЕдПод="1"/>
  </СвПредПод>
</Документ>`)
	assert.False(t, failed)
	assert.Equal(t, []string{"500100732259"}, acc.Receivers.Keys())
	require.Len(t, acc.Diagnostics, 1)
	assert.True(t, acc.Diagnostics[0].Warning)
}

func TestNormalizeNoEntries(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d"><СвЮЛ ИННЮЛ="1234567890" НаимОрг="ООО Ромашка"/></Документ>`)
	assert.True(t, failed)
	assert.Equal(t, 1, acc.Receivers.Len())
	assert.Empty(t, acc.Measures)
}

func TestNormalizeEntryWithoutProviderIsDropped(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d">
  <СвЮЛ ИННЮЛ="1234567890" НаимОрг="ООО Ромашка"/>
  <СвПредПод НаимОрг="Безымянный" ВидПП="1" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">
    `+entryTail+`
    <РазмПод РазмПод="5" ЕдПод="1"/>
  </СвПредПод>
  <СвПредПод ИННЮЛ="7702" НаимОрг="Фонд" ВидПП="1" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">
    <ФормПод КодФорм="0200"/>
    <ВидПод КодВид="0202" НаимВид="Заем"/>
    <ИнфНаруш ИнфНаруш="1" ИнфНецел="2"/>
    <РазмПод РазмПод="7" ЕдПод="1"/>
  </СвПредПод>
</Документ>`)
	assert.True(t, failed)
	assert.Equal(t, []string{"7702"}, acc.Providers.Keys())
	assert.Equal(t, []string{"0202"}, acc.Kinds.Keys())
	require.Len(t, acc.Measures, 1)
	assert.Equal(t, "7702", acc.Measures[0].Provider)
	assert.True(t, acc.Measures[0].Violation)
}

func TestNormalizeEntryWithoutKindCodeIsDropped(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d">
  <СвЮЛ ИННЮЛ="1234567890" НаимОрг="ООО Ромашка"/>
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд" ВидПП="1" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">
    <ВидПод НаимВид="Без кода"/>
    <РазмПод РазмПод="5" ЕдПод="1"/>
  </СвПредПод>
</Документ>`)
	assert.True(t, failed)
	assert.Zero(t, acc.Providers.Len())
	assert.Zero(t, acc.Kinds.Len())
	assert.Empty(t, acc.Measures)
}

func TestNormalizeZeroSizes(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d">
  <СвЮЛ ИННЮЛ="1234567890" НаимОрг="ООО Ромашка"/>
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд" ВидПП="1" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">
    `+entryTail+`
  </СвПредПод>
</Документ>`)
	assert.False(t, failed)
	require.Len(t, acc.Measures, 1)
	assert.Zero(t, acc.Measures[0].Size)
	assert.Equal(t, codes.UnitDefault, acc.Measures[0].SizeUnit)
}

func TestNormalizeDegradedValues(t *testing.T) {
	acc, failed := normalize(t, `<Документ ИдДок="d">
  <СвЮЛ ИННЮЛ="1234567890" НаимОрг="ООО Ромашка"/>
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд" ВидПП="9" СрокПод="31.02.2024">
    <ФормПод КодФорм="7777"/>
    <ВидПод КодВид="0101" НаимВид="Субсидия"/>
    <РазмПод РазмПод="2000000000" ЕдПод="42"/>
  </СвПредПод>
</Документ>`)
	assert.True(t, failed)
	require.Len(t, acc.Measures, 1)
	m := acc.Measures[0]
	assert.True(t, SentinelDate.Equal(m.Period))
	assert.True(t, SentinelDate.Equal(m.StartDate))
	assert.Nil(t, m.ReceiverKind)
	assert.Equal(t, codes.CategoryNone, m.ReceiverCategory)
	assert.Equal(t, codes.FormUnknown, m.Form)
	assert.Zero(t, m.Size)
	assert.Equal(t, codes.UnitDefault, m.SizeUnit)
	assert.False(t, m.Violation)
	assert.False(t, m.Misuse)
}

func TestNormalizeFirstNameWins(t *testing.T) {
	acc := NewFileResult("test.xml")
	doc, err := markup.Parse(strings.NewReader(`<Файл>
<Документ ИдДок="a"><СвЮЛ ИННЮЛ="1234567890" НаимОрг="Первое имя"/>
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд А" ВидПП="1" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">`+entryTail+`</СвПредПод></Документ>
<Документ ИдДок="b"><СвЮЛ ИННЮЛ="1234567890" НаимОрг="Второе имя"/>
  <СвПредПод ИННЮЛ="7701" НаимОрг="Фонд Б" ВидПП="1" КатСуб="1" СрокПод="01.01.2024" ДатаПрин="01.01.2024">`+entryTail+`</СвПредПод></Документ>
</Файл>`))
	require.NoError(t, err)
	for _, d := range doc.Find(elemDocument) {
		NormalizeDocument(d, acc)
	}
	name, _ := acc.Receivers.Name("1234567890")
	assert.Equal(t, "Первое имя", name)
	provider, _ := acc.Providers.Name("7701")
	assert.Equal(t, "Фонд А", provider)
	assert.Len(t, acc.Measures, 2)
}
