package multistore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

// receipt has a server generated ObjectID key and no version.
type receipt struct {
	ID    primitive.ObjectID `bson:"_id,omitempty"`
	Total int64              `bson:"total"`
}

func (r *receipt) IsNew() bool                { return r.ID.IsZero() }
func (r *receipt) GetID() primitive.ObjectID   { return r.ID }
func (r *receipt) SetID(id primitive.ObjectID) { r.ID = id }

func newInvoices(n int) []*invoice {
	invoices := make([]*invoice, n)
	for i := range invoices {
		invoices[i] = &invoice{Number: fmt.Sprintf("A-%d", i), Amount: float64(i)}
	}
	return invoices
}

func newInvoiceRepo(mt *mtest.T) Repository[string, *invoice] {
	mt.Helper()

	repo, err := CreateMongoRepository[string, *invoice](mt.DB, "invoices")
	require.NoError(mt, err)
	return repo
}

func updated(n int) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "n", Value: n}, bson.E{Key: "nModified", Value: n})
}

// sentKeys lists the _id of every document sent by the insert commands.
func sentKeys(mt *mtest.T) ([]bson.RawValue, []int) {
	mt.Helper()

	var keys []bson.RawValue
	var sizes []int
	for _, evt := range mt.GetAllStartedEvents() {
		require.Equal(mt, "insert", evt.CommandName)

		docs, err := evt.Command.Lookup("documents").Array().Values()
		require.NoError(mt, err)

		sizes = append(sizes, len(docs))
		for _, doc := range docs {
			keys = append(keys, doc.Document().Lookup("_id"))
		}
	}

	return keys, sizes
}

func TestMongo_BatchSave(t *testing.T) {
	ctx := context.Background()
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("generated string keys", func(mt *mtest.T) {
		repo := newInvoiceRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())

		invoices := newInvoices(9)
		saved, err := repo.BatchSave(ctx, invoices, WithBatchSize(5))
		require.NoError(mt, err)
		require.Len(mt, saved, 9)

		keys, sizes := sentKeys(mt)
		assert.Equal(mt, []int{5, 4}, sizes)
		require.Len(mt, keys, 9)

		seen := make(map[string]bool)
		for i, inv := range invoices {
			assert.Equal(mt, keys[i].StringValue(), inv.ID)
			assert.Equal(mt, int64(1), inv.Version)

			_, err := primitive.ObjectIDFromHex(inv.ID)
			assert.NoError(mt, err)
			assert.False(mt, seen[inv.ID])
			seen[inv.ID] = true
		}
	})

	mt.Run("generated keys are matched by later saves", func(mt *mtest.T) {
		repo := newInvoiceRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), updated(1))

		inv := &invoice{Number: "A-1", Amount: 10}
		_, err := repo.Save(ctx, inv)
		require.NoError(mt, err)

		inv.Amount = 12
		mt.ClearEvents()
		_, err = repo.Save(ctx, inv)
		require.NoError(mt, err)
		assert.Equal(mt, int64(2), inv.Version)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "update", evt.CommandName)

		updates, err := evt.Command.Lookup("updates").Array().Values()
		require.NoError(mt, err)
		require.Len(mt, updates, 1)

		q := updates[0].Document().Lookup("q").Document()
		assert.Equal(mt, inv.ID, q.Lookup("_id").StringValue())
		assert.Equal(mt, int64(1), q.Lookup("version").Int64())

		u := updates[0].Document().Lookup("u").Document()
		assert.Equal(mt, int64(2), u.Lookup("version").Int64())
		assert.Equal(mt, 12.0, u.Lookup("amount").Double())
	})

	mt.Run("generated object ids", func(mt *mtest.T) {
		repo, err := CreateMongoRepository[primitive.ObjectID, *receipt](mt.DB, "receipts")
		require.NoError(mt, err)
		mt.AddMockResponses(mtest.CreateSuccessResponse(), mtest.CreateSuccessResponse())

		receipts := []*receipt{{Total: 1}, {Total: 2}, {Total: 3}}
		_, err = repo.BatchSave(ctx, receipts, WithBatchSize(2))
		require.NoError(mt, err)

		keys, sizes := sentKeys(mt)
		assert.Equal(mt, []int{2, 1}, sizes)
		require.Len(mt, keys, 3)
		for i, r := range receipts {
			assert.False(mt, r.ID.IsZero())
			assert.Equal(mt, keys[i].ObjectID(), r.ID)
		}
	})

	mt.Run("optimistic lock restores versions", func(mt *mtest.T) {
		repo := newInvoiceRepo(mt)
		mt.AddMockResponses(updated(1))

		invoices := []*invoice{
			{ID: "a", Number: "A-1", Version: 3},
			{ID: "b", Number: "B-1", Version: 5},
		}
		_, err := repo.BatchSave(ctx, invoices)
		require.ErrorIs(mt, err, ErrOptimisticLock)
		assert.Equal(mt, int64(3), invoices[0].Version)
		assert.Equal(mt, int64(5), invoices[1].Version)
	})

	mt.Run("write error restores versions", func(mt *mtest.T) {
		repo := newInvoiceRepo(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   1,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))

		invoices := []*invoice{
			{ID: "a", Number: "A-1", Version: 3},
			{ID: "b", Number: "B-1", Version: 5},
		}
		_, err := repo.BatchSave(ctx, invoices)
		require.ErrorIs(mt, err, ErrKeyAlreadyExists)
		assert.Equal(mt, int64(3), invoices[0].Version)
		assert.Equal(mt, int64(5), invoices[1].Version)
	})

	mt.Run("duplicate insert", func(mt *mtest.T) {
		repo := newInvoiceRepo(mt)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))

		_, err := repo.BatchSave(ctx, []*invoice{{ID: "a", Number: "A-1"}})
		require.ErrorIs(mt, err, ErrKeyAlreadyExists)
	})

	mt.Run("get by generated key", func(mt *mtest.T) {
		repo := newInvoiceRepo(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		inv := &invoice{Number: "A-1", Amount: 10}
		_, err := repo.Save(ctx, inv)
		require.NoError(mt, err)

		mt.ClearEvents()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.invoices", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: inv.ID},
			{Key: "number", Value: "A-1"},
			{Key: "amount", Value: 10.0},
			{Key: "version", Value: int64(1)},
		}))

		got, err := repo.Get(ctx, inv.ID)
		require.NoError(mt, err)
		assert.Equal(mt, inv, got)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, inv.ID, evt.Command.Lookup("filter", "_id").StringValue())
	})
}
