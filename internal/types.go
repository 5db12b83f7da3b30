package internal

import (
	"context"
	"errors"
	"time"
)

type EntityKind string

const (
	EntityReceiver    EntityKind = "receivers"
	EntityProvider    EntityKind = "providers"
	EntitySupportKind EntityKind = "support_kinds"
)

// EntityKinds lists the reference entity kinds in submission order.
var EntityKinds = []EntityKind{EntityReceiver, EntityProvider, EntitySupportKind}

const TableSupportMeasures = "support_measures"

type ReceiverIdentity struct {
	TIN  string
	Name string
}

type ProviderIdentity struct {
	TIN  string
	Name string
}

type SupportKind struct {
	Code string
	Name string
}

// SupportMeasure is one fact row: a support measure entry paired with one
// of its declared sizes.
type SupportMeasure struct {
	Period           time.Time
	StartDate        time.Time
	EndDate          *time.Time
	Size             float64
	SizeUnit         string
	Violation        bool
	Misuse           bool
	ReceiverKind     *string
	ReceiverCategory string
	Receiver         string
	Provider         string
	Kind             string
	Form             string
	SourceFile       string
	DocID            string
}

type DiagnosticKind string

const (
	DiagStructural     DiagnosticKind = "structural"
	DiagMissingField   DiagnosticKind = "missing_field"
	DiagMalformedValue DiagnosticKind = "malformed_value"
	DiagUnrecoverable  DiagnosticKind = "unrecoverable_entity"
	DiagSinkFailure    DiagnosticKind = "sink_failure"
)

// Diagnostic describes one problem found while loading a file. Warnings are
// informational and do not mark the enclosing document as degraded.
type Diagnostic struct {
	Kind    DiagnosticKind
	Warning bool
	File    string
	DocID   string
	Field   string
	Message string
}

type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Files      int
	Failed     int
	Counts     map[string]int
}

// ErrConstraint marks sink errors caused by the data itself (key or foreign
// key violations). Retrying them cannot succeed.
var ErrConstraint = errors.New("constraint violation")

type Sink interface {
	KnownKeys(ctx context.Context, kind EntityKind) (map[string]struct{}, error)
	Begin(ctx context.Context) (SinkTx, error)
}

// SinkTx is one file's submission. Rollback after Commit is a no-op.
type SinkTx interface {
	InsertReceivers(ctx context.Context, rows []ReceiverIdentity) error
	InsertProviders(ctx context.Context, rows []ProviderIdentity) error
	InsertSupportKinds(ctx context.Context, rows []SupportKind) error
	InsertMeasures(ctx context.Context, rows []SupportMeasure) error
	Commit() error
	Rollback() error
}

type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}
