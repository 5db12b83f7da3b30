package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smbload/internal"
	"smbload/internal/metrics"
)

var ErrSinkFailure = errors.New("sink failure")

type Options struct {
	// Workers > 1 parses files ahead in parallel. Commits stay sequential
	// and in listing order.
	Workers       int
	MaxRetries    int
	RetryInterval time.Duration
	SinkTimeout   time.Duration
	Logger        *zap.Logger
	Metrics       *metrics.Metrics
}

// Lister returns the ordered file listing of a directory.
type Lister interface {
	List(dir string) ([]string, error)
}

// Loader feeds files into a sink, submitting only reference entities the
// sink does not hold yet. It owns the known key sets, which grow only after
// a successful commit. A Loader is not safe for concurrent use.
type Loader struct {
	sink    internal.Sink
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
	known   map[internal.EntityKind]KeySet
	seeded  bool
}

func NewLoader(sink internal.Sink, opts Options) *Loader {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 200 * time.Millisecond
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	known := make(map[internal.EntityKind]KeySet, len(internal.EntityKinds))
	for _, kind := range internal.EntityKinds {
		known[kind] = KeySet{}
	}
	return &Loader{sink: sink, opts: opts, logger: logger, metrics: opts.Metrics, known: known}
}

// Seed loads the keys already persisted in the sink. LoadFiles seeds on
// first use when Seed was not called.
func (l *Loader) Seed(ctx context.Context) error {
	for _, kind := range internal.EntityKinds {
		keys, err := l.sink.KnownKeys(ctx, kind)
		if err != nil {
			return fmt.Errorf("seed known %s: %w", kind, err)
		}
		set := make(KeySet, len(keys))
		for key := range keys {
			set[key] = struct{}{}
		}
		l.known[kind] = set
		l.logger.Debug("seeded known keys", zap.String("kind", string(kind)), zap.Int("count", len(set)))
	}
	l.seeded = true
	return nil
}

// Known returns a copy of the known key set for kind.
func (l *Loader) Known(kind internal.EntityKind) KeySet {
	return l.known[kind].Clone()
}

type FileReport struct {
	Path        string
	Outcome     FileOutcome
	Documents   int
	Receivers   int
	Providers   int
	Kinds       int
	Measures    int
	Submitted   map[string]int
	SinkError   string
	Diagnostics []internal.Diagnostic
}

func (r FileReport) HasErrors() bool {
	return r.Outcome == OutcomeDegraded || r.Outcome == OutcomeFailed || r.SinkError != ""
}

type Summary struct {
	RunID        string
	StartedAt    time.Time
	FinishedAt   time.Time
	Processed    int
	Failed       int
	Skipped      int
	SinkFailures int
	Rows         map[string]int
	Files        []FileReport
}

func (s Summary) RunRecord() internal.RunRecord {
	counts := map[string]int{"skipped": s.Skipped, "sink_failures": s.SinkFailures}
	for table, n := range s.Rows {
		counts[table] = n
	}
	return internal.RunRecord{
		ID:         s.RunID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Files:      s.Processed,
		Failed:     s.Failed,
		Counts:     counts,
	}
}

// LoadDir loads the [start, end) slice of the directory listing. end <= 0
// means up to the last file.
func (l *Loader) LoadDir(ctx context.Context, lister Lister, dir string, start, end int) (Summary, error) {
	paths, err := lister.List(dir)
	if err != nil {
		return Summary{}, fmt.Errorf("list %s: %w", dir, err)
	}
	return l.LoadFiles(ctx, SliceFiles(paths, start, end))
}

func SliceFiles(paths []string, start, end int) []string {
	if start < 0 {
		start = 0
	}
	if end <= 0 || end > len(paths) {
		end = len(paths)
	}
	if start >= end {
		return nil
	}
	return paths[start:end]
}

// LoadFiles processes paths in order. Per-file problems are counted in the
// summary; the returned error is non-nil only when seeding fails or ctx is
// cancelled, in which case the summary covers the files finished so far.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) (Summary, error) {
	if !l.seeded {
		if err := l.Seed(ctx); err != nil {
			return Summary{}, err
		}
	}

	summary := Summary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Rows:      map[string]int{},
	}

	var err error
	if l.opts.Workers > 1 && len(paths) > 1 {
		err = l.loadParallel(ctx, paths, &summary)
	} else {
		err = l.loadSequential(ctx, paths, &summary)
	}
	summary.FinishedAt = time.Now().UTC()

	l.logger.Info("load finished",
		zap.String("run_id", summary.RunID),
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("sink_failures", summary.SinkFailures))
	return summary, err
}

type parsedFile struct {
	res  *FileResult
	took time.Duration
}

func (l *Loader) loadSequential(ctx context.Context, paths []string, summary *Summary) error {
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		res := ProcessFile(path)
		l.apply(ctx, parsedFile{res: res, took: time.Since(start)}, summary)
	}
	return nil
}

func (l *Loader) loadParallel(ctx context.Context, paths []string, summary *Summary) error {
	results := make([]chan parsedFile, len(paths))
	for i := range results {
		results[i] = make(chan parsedFile, 1)
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(l.opts.Workers)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, path := range paths {
			if pctx.Err() != nil {
				for _, ch := range results[i:] {
					close(ch)
				}
				return
			}
			g.Go(func() error {
				start := time.Now()
				res := ProcessFile(path)
				results[i] <- parsedFile{res: res, took: time.Since(start)}
				return nil
			})
		}
	}()

	var err error
	for _, ch := range results {
		if err = ctx.Err(); err != nil {
			break
		}
		parsed, ok := <-ch
		if !ok {
			err = ctx.Err()
			break
		}
		l.apply(ctx, parsed, summary)
	}

	cancel()
	<-launched
	_ = g.Wait()
	return err
}

// apply submits one parsed file and records its outcome. The commit runs on
// a context detached from cancellation so a started file always finishes.
func (l *Loader) apply(ctx context.Context, parsed parsedFile, summary *Summary) {
	start := time.Now()
	res := parsed.res
	report := FileReport{
		Path:        res.Path,
		Outcome:     res.Outcome(),
		Documents:   res.Documents,
		Receivers:   res.Receivers.Len(),
		Providers:   res.Providers.Len(),
		Kinds:       res.Kinds.Len(),
		Measures:    len(res.Measures),
		Diagnostics: res.Diagnostics,
	}
	l.logDiagnostics(res.Diagnostics)

	if res.Skipped {
		summary.Skipped++
		summary.Files = append(summary.Files, report)
		l.metrics.ObserveFile(string(OutcomeSkipped), parsed.took)
		l.logger.Debug("skipped file", zap.String("file", res.Name()))
		return
	}

	summary.Processed++
	metricOutcome := string(report.Outcome)
	if res.Usable() {
		submitted, err := l.commit(context.WithoutCancel(ctx), res)
		if err != nil {
			summary.SinkFailures++
			metricOutcome = "sink_failed"
			report.SinkError = err.Error()
			report.Diagnostics = append(report.Diagnostics, internal.Diagnostic{
				Kind:    internal.DiagSinkFailure,
				File:    res.Name(),
				Message: err.Error(),
			})
			l.metrics.IncDiagnostic(string(internal.DiagSinkFailure))
			l.logger.Error("sink submission failed", zap.String("file", res.Name()), zap.Error(err))
		} else {
			report.Submitted = submitted
			for table, n := range submitted {
				summary.Rows[table] += n
				l.metrics.AddRows(table, n)
			}
		}
	}
	if report.HasErrors() {
		summary.Failed++
	}
	summary.Files = append(summary.Files, report)
	l.metrics.ObserveFile(metricOutcome, parsed.took+time.Since(start))

	l.logger.Info("file loaded",
		zap.String("file", res.Name()),
		zap.String("outcome", metricOutcome),
		zap.Int("documents", report.Documents),
		zap.Int("measures", report.Measures),
		zap.Any("submitted", report.Submitted))
}

func (l *Loader) logDiagnostics(diags []internal.Diagnostic) {
	for _, d := range diags {
		fields := []zap.Field{
			zap.String("kind", string(d.Kind)),
			zap.String("file", d.File),
			zap.String("doc_id", d.DocID),
			zap.String("field", d.Field),
		}
		if d.Warning {
			l.logger.Debug(d.Message, fields...)
			continue
		}
		l.metrics.IncDiagnostic(string(d.Kind))
		l.logger.Warn(d.Message, fields...)
	}
}

type submission struct {
	receivers []internal.ReceiverIdentity
	providers []internal.ProviderIdentity
	kinds     []internal.SupportKind
	measures  []internal.SupportMeasure
	keys      map[internal.EntityKind][]string
}

func (s submission) counts() map[string]int {
	return map[string]int{
		string(internal.EntityReceiver):    len(s.receivers),
		string(internal.EntityProvider):    len(s.providers),
		string(internal.EntitySupportKind): len(s.kinds),
		internal.TableSupportMeasures:      len(s.measures),
	}
}

// residual builds the rows to submit for res: reference entities not yet
// known plus every fact row.
func (l *Loader) residual(res *FileResult) submission {
	s := submission{keys: map[internal.EntityKind][]string{}, measures: res.Measures}
	for _, kind := range internal.EntityKinds {
		reg := res.Registry(kind)
		keys := reg.Residual(l.known[kind])
		s.keys[kind] = keys
		for _, key := range keys {
			name, _ := reg.Name(key)
			switch kind {
			case internal.EntityReceiver:
				s.receivers = append(s.receivers, internal.ReceiverIdentity{TIN: key, Name: name})
			case internal.EntityProvider:
				s.providers = append(s.providers, internal.ProviderIdentity{TIN: key, Name: name})
			case internal.EntitySupportKind:
				s.kinds = append(s.kinds, internal.SupportKind{Code: key, Name: name})
			}
		}
	}
	return s
}

func (l *Loader) commit(ctx context.Context, res *FileResult) (map[string]int, error) {
	batch := l.residual(res)

	op := func() error {
		err := l.submit(ctx, batch)
		if errors.Is(err, internal.ErrConstraint) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		l.metrics.IncSinkRetry()
		l.logger.Warn("retrying sink submission",
			zap.String("file", res.Name()),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.RetryInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.opts.MaxRetries)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSinkFailure, res.Name(), err)
	}

	for kind, keys := range batch.keys {
		l.known[kind].Add(keys...)
	}
	return batch.counts(), nil
}

func (l *Loader) submit(ctx context.Context, s submission) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.SinkTimeout)
	defer cancel()

	tx, err := l.sink.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.InsertReceivers(ctx, s.receivers); err != nil {
		return fmt.Errorf("insert receivers: %w", err)
	}
	if err := tx.InsertProviders(ctx, s.providers); err != nil {
		return fmt.Errorf("insert providers: %w", err)
	}
	if err := tx.InsertSupportKinds(ctx, s.kinds); err != nil {
		return fmt.Errorf("insert support kinds: %w", err)
	}
	if err := tx.InsertMeasures(ctx, s.measures); err != nil {
		return fmt.Errorf("insert support measures: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
