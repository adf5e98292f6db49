package multistore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// BatchUpserter splits records into new and existing ones, inserts the new
// ones in chunks and writes generated keys and initial versions back onto
// them, then updates the existing ones in a single call.
type BatchUpserter[K comparable, T Entity[K]] struct {
	access     DataAccessStrategy[K, T]
	def        TableDef
	logger     zerolog.Logger
	metrics    *Metrics
	datasource string
}

// NewBatchUpserter binds access to the entity definition def. It fails when
// def declares a version column that T cannot receive.
func NewBatchUpserter[K comparable, T Entity[K]](access DataAccessStrategy[K, T], def TableDef, options ...UpserterOption) (*BatchUpserter[K, T], error) {
	if access == nil {
		return nil, fmt.Errorf("%w: data access strategy must not be nil", ErrInvalidArgument)
	}

	if def.VersionKind != VersionNone {
		var entity T
		if _, ok := any(entity).(Versioned); !ok {
			return nil, fmt.Errorf("%w: %s declares version %q but %T does not implement Versioned",
				ErrInvalidArgument, def.FullTableName(), def.VersionField, entity)
		}
	}

	opt := &upserterOption{logger: zerolog.Nop()}
	for _, op := range options {
		op(opt)
	}

	return &BatchUpserter[K, T]{
		access:     access,
		def:        def,
		logger:     opt.logger,
		metrics:    opt.metrics,
		datasource: opt.datasource,
	}, nil
}

// BatchUpsert saves records and returns the same slice. A batchSize of 0
// sends all new records in one insert. Errors from the data access strategy
// are returned unchanged; records of batches flushed before the failure keep
// their keys and versions.
func (b *BatchUpserter[K, T]) BatchUpsert(ctx context.Context, records []T, batchSize int) ([]T, error) {
	if err := checkBatchArguments(len(records), batchSize); err != nil {
		return nil, err
	}

	if batchSize == 0 {
		batchSize = len(records)
	}

	inserts := make([]InsertSubject[T], 0, batchSize)
	var updates []T
	for _, record := range records {
		if !record.IsNew() {
			updates = append(updates, record)
			continue
		}

		b.prepareVersionForInsert(record)
		inserts = append(inserts, DescribedBy(record, nil))
		if len(inserts) == batchSize {
			if err := b.flush(ctx, inserts); err != nil {
				return nil, err
			}

			inserts = make([]InsertSubject[T], 0, batchSize)
		}
	}

	if len(inserts) > 0 {
		if err := b.flush(ctx, inserts); err != nil {
			return nil, err
		}
	}

	if len(updates) > 0 {
		started := time.Now()
		err := b.access.BulkUpdate(ctx, updates)
		b.metrics.observe(b.datasource, b.def.FullTableName(), "update", len(updates), started, err)
		if err != nil {
			return nil, err
		}
	}

	return records, nil
}

func (b *BatchUpserter[K, T]) flush(ctx context.Context, subjects []InsertSubject[T]) error {
	source := IDValueSourceFor[K](subjects[0].Instance, b.def)

	started := time.Now()
	ids, err := b.access.BulkInsert(ctx, subjects, source)
	b.metrics.observe(b.datasource, b.def.FullTableName(), "insert", len(subjects), started, err)
	if err != nil {
		return err
	}

	b.logger.Debug().
		Str("table", b.def.FullTableName()).
		Str("id_source", source.String()).
		Int("size", len(subjects)).
		Dur("took", time.Since(started)).
		Msg("flushed insert batch")

	if source != IDGenerated {
		return nil
	}

	if len(ids) != len(subjects) {
		return fmt.Errorf("%w: %d keys returned for %d rows of %s",
			ErrGeneratedKeys, len(ids), len(subjects), b.def.FullTableName())
	}

	for i, id := range ids {
		subjects[i].Instance.SetID(id)
	}

	return nil
}

func (b *BatchUpserter[K, T]) prepareVersionForInsert(record T) {
	if b.def.VersionKind == VersionNone {
		return
	}

	// checked in NewBatchUpserter
	v := any(record).(Versioned)
	v.SetVersion(b.def.VersionKind.InitialVersion())
}

// checkBatchArguments validates a batch save request before any statement
// is sent.
func checkBatchArguments(count, batchSize int) error {
	if count == 0 {
		return fmt.Errorf("%w: batch save must contain at least one entity", ErrInvalidArgument)
	}

	if batchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative, got %d", ErrInvalidArgument, batchSize)
	}

	return nil
}
