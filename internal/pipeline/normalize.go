package pipeline

import (
	"smbload/internal"
	"smbload/internal/codes"
	"smbload/internal/markup"
	"smbload/internal/util"
)

// Element and attribute names of the registry format.
const (
	elemDocument = "Документ"
	attrDocID    = "ИдДок"

	elemIndividual    = "СвФЛ"
	attrIndividualTIN = "ИННФЛ"
	elemFullName      = "ФИО"
	attrSurname       = "Фамилия"
	attrFirstName     = "Имя"
	attrPatronymic    = "Отчество"

	elemOrganization = "СвЮЛ"
	attrOrgTIN       = "ИННЮЛ"
	attrOrgName      = "НаимОрг"

	elemSupport      = "СвПредПод"
	attrReceiverKind = "ВидПП"
	attrCategory     = "КатСуб"
	attrPeriod       = "СрокПод"
	attrStartDate    = "ДатаПрин"
	attrEndDate      = "ДатаПрекр"

	elemForm      = "ФормПод"
	attrForm      = "КодФорм"
	elemKind      = "ВидПод"
	attrKindCode  = "КодВид"
	attrKindName  = "НаимВид"
	elemViolation = "ИнфНаруш"
	attrViolation = "ИнфНаруш"
	attrMisuse    = "ИнфНецел"
	elemSize      = "РазмПод"
	attrSize      = "РазмПод"
	attrSizeUnit  = "ЕдПод"
)

// NormalizeDocument adds one document's receiver, reference entities and
// fact rows to acc and reports whether the document had errors. Diagnostics
// are appended to acc.Diagnostics.
func NormalizeDocument(doc markup.Node, acc *FileResult) bool {
	e := newFieldExtractor(acc.Name(), doc.AttrOr(attrDocID, ""))
	defer func() {
		acc.Diagnostics = append(acc.Diagnostics, e.diags...)
	}()

	receiver, ok := e.receiver(doc)
	if !ok {
		return true
	}
	acc.Receivers.Register(receiver.TIN, receiver.Name)

	entries := doc.Find(elemSupport)
	if len(entries) == 0 {
		e.fail(internal.DiagStructural, elemSupport, "document declares no support measures")
		return true
	}
	for _, entry := range entries {
		e.supportEntry(entry, receiver.TIN, acc)
	}
	return e.failed
}

func (e *fieldExtractor) receiver(doc markup.Node) (internal.ReceiverIdentity, bool) {
	individual := doc.First(elemIndividual)
	organization := doc.First(elemOrganization)

	switch {
	case individual.Exists():
		if organization.Exists() {
			e.warn(internal.DiagStructural, elemOrganization, "document has both receiver shapes, using %s", elemIndividual)
		}
		tin, ok := e.key(individual, elemIndividual, attrIndividualTIN)
		if !ok {
			return internal.ReceiverIdentity{}, false
		}
		namePath := elemPath(elemIndividual, elemFullName)
		name := individual.First(elemFullName)
		if !name.Exists() {
			e.fail(internal.DiagMissingField, namePath, "missing full name, using empty value")
			return internal.ReceiverIdentity{TIN: tin}, true
		}
		return internal.ReceiverIdentity{
			TIN: tin,
			Name: util.JoinName(
				e.text(name, namePath, attrSurname),
				e.text(name, namePath, attrFirstName),
				e.optionalText(name, attrPatronymic),
			),
		}, true

	case organization.Exists():
		tin, ok := e.key(organization, elemOrganization, attrOrgTIN)
		if !ok {
			return internal.ReceiverIdentity{}, false
		}
		return internal.ReceiverIdentity{TIN: tin, Name: e.text(organization, elemOrganization, attrOrgName)}, true

	default:
		e.fail(internal.DiagStructural, elemIndividual+"|"+elemOrganization, "document has no receiver")
		return internal.ReceiverIdentity{}, false
	}
}

// supportEntry emits the fact rows of one support measure entry. An entry
// without a provider or kind identifier is dropped on its own.
func (e *fieldExtractor) supportEntry(entry markup.Node, receiverTIN string, acc *FileResult) {
	providerTIN, ok := e.key(entry, elemSupport, attrOrgTIN)
	if !ok {
		return
	}
	kindPath := elemPath(elemSupport, elemKind)
	kind := entry.First(elemKind)
	kindCode, ok := e.key(kind, kindPath, attrKindCode)
	if !ok {
		return
	}

	acc.Providers.Register(providerTIN, e.text(entry, elemSupport, attrOrgName))
	acc.Kinds.Register(kindCode, e.text(kind, kindPath, attrKindName))

	violationPath := elemPath(elemSupport, elemViolation)
	violations := entry.First(elemViolation)
	base := internal.SupportMeasure{
		Period:           e.date(entry, elemSupport, attrPeriod),
		StartDate:        e.date(entry, elemSupport, attrStartDate),
		EndDate:          e.optionalDate(entry, elemSupport, attrEndDate),
		Violation:        e.flag(violations, violationPath, attrViolation),
		Misuse:           e.flag(violations, violationPath, attrMisuse),
		ReceiverKind:     e.optionalLabel(entry, elemSupport, attrReceiverKind, codes.ReceiverKinds),
		ReceiverCategory: e.label(entry, elemSupport, attrCategory, codes.ReceiverCategories, codes.CategoryNone),
		Receiver:         receiverTIN,
		Provider:         providerTIN,
		Kind:             kindCode,
		Form:             e.form(entry.First(elemForm), elemPath(elemSupport, elemForm), attrForm),
		SourceFile:       e.file,
		DocID:            e.docID,
	}

	sizePath := elemPath(elemSupport, elemSize)
	sizes := entry.Find(elemSize)
	if len(sizes) == 0 {
		e.warn(internal.DiagMissingField, sizePath, "entry declares no sizes, emitting a zero %s row", codes.UnitDefault)
		row := base
		row.Size = 0
		row.SizeUnit = codes.UnitDefault
		acc.Measures = append(acc.Measures, row)
		return
	}
	for _, size := range sizes {
		row := base
		row.Size = e.size(size, sizePath, attrSize)
		row.SizeUnit = e.label(size, sizePath, attrSizeUnit, codes.SizeUnits, codes.UnitDefault)
		acc.Measures = append(acc.Measures, row)
	}
}
