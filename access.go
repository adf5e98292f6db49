package multistore

import "context"

// DataAccessStrategy is the storage capability BatchUpserter writes through.
//
// BulkInsert inserts all subjects in one physical operation. When source is
// IDGenerated it returns the generated keys in submission order, otherwise it
// may return nil. BulkUpdate persists all records in one operation.
type DataAccessStrategy[K comparable, T any] interface {
	BulkInsert(ctx context.Context, subjects []InsertSubject[T], source IDValueSource) ([]K, error)
	BulkUpdate(ctx context.Context, records []T) error
}
