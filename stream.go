package multistore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// StreamSave batch-saves the entities received from values in chunks of
// batchSize, all inside one transaction, until values is closed. The
// transaction is tx when given and is then left to the caller; otherwise it
// is begun on repo and committed at the end. It returns the number of saved
// entities.
func StreamSave[K comparable, T Entity[K]](ctx context.Context, repo Repository[K, T], values <-chan T, batchSize int, tx ...Transaction) (int, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("%w: stream batch size must be positive, got %d", ErrInvalidArgument, batchSize)
	}

	t, commit, err := streamTransaction(ctx, repo, tx)
	if err != nil {
		return 0, err
	}
	defer commit(false)

	opts := []QueryOption{WithTransaction(t), WithBatchSize(batchSize)}

	saved := 0
	buf := make([]T, 0, batchSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}

		if _, err := repo.BatchSave(ctx, buf, opts...); err != nil {
			return err
		}

		saved += len(buf)
		buf = make([]T, 0, batchSize)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return saved, ctx.Err()

		case val, ok := <-values:
			if !ok {
				if err := flush(); err != nil {
					return saved, err
				}

				return saved, commit(true)
			}

			buf = append(buf, val)
			if len(buf) == batchSize {
				if err := flush(); err != nil {
					return saved, err
				}
			}
		}
	}
}

// LoadCSV inserts the rows of a CSV document into the table of repo inside
// one transaction. With withHeader the first row names the columns;
// otherwise rows follow the column order of the model. Empty fields of
// nullable columns are inserted as NULL. It returns the number of rows
// inserted.
func LoadCSV[K comparable, T Entity[K]](ctx context.Context, repo Repository[K, T], input io.Reader, withHeader bool, tx ...Transaction) (int, error) {
	tb := repo.GetTableDef()
	rd := csv.NewReader(input)
	rd.TrimLeadingSpace = true

	columns := tb.Columns
	if withHeader {
		line, err := rd.Read()
		if err != nil {
			return 0, fmt.Errorf("reading csv header: %w", err)
		}

		columns = make([]ColumnInfo, len(line))
		for i, name := range line {
			col, ok := tb.Column(strings.TrimSpace(name))
			if !ok {
				return 0, fmt.Errorf("%w: csv column %q is not a column of %s", ErrInvalidArgument, name, tb.FullTableName())
			}
			columns[i] = col
		}
	}

	if len(columns) == 0 {
		return 0, fmt.Errorf("%w: %s has no columns", ErrInvalidArgument, tb.FullTableName())
	}

	names := Map(columns, func(col ColumnInfo) string {
		return col.Name
	})
	qry := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", tb.FullTableName(), strings.Join(names, ","), placeholderRows(len(names), 1))

	t, commit, err := streamTransaction(ctx, repo, tx)
	if err != nil {
		return 0, err
	}
	defer commit(false)

	count := 0
	for {
		line, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, err
		}

		if len(line) != len(columns) {
			return count, fmt.Errorf("%w: csv row %d has %d fields, expected %d", ErrInvalidArgument, count+1, len(line), len(columns))
		}

		vals := make([]any, len(line))
		for i, val := range line {
			val = strings.TrimSpace(val)
			if val == "" && columns[i].AllowNull {
				continue
			}
			vals[i] = val
		}

		if err := repo.SQLExec(ctx, qry, vals, WithTransaction(t)); err != nil {
			return count, err
		}
		count++
	}

	return count, commit(true)
}

// streamTransaction returns the transaction to run on and a finish func.
// finish(true) commits a transaction begun here; finish(false) rolls it back
// unless it was committed. A given transaction is never finished here.
func streamTransaction[K comparable, T Entity[K]](ctx context.Context, repo Repository[K, T], tx []Transaction) (Transaction, func(commit bool) error, error) {
	if len(tx) > 0 && tx[0] != nil {
		return tx[0], func(bool) error { return nil }, nil
	}

	t, err := repo.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}

	done := false
	finish := func(commit bool) error {
		if done {
			return nil
		}
		done = true

		if commit {
			return t.Commit(ctx)
		}
		return t.Rollback(ctx)
	}

	return t, finish, nil
}
