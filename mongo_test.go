package multistore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
)

type invoice struct {
	ID      string  `bson:"_id,omitempty"`
	Number  string  `bson:"number"`
	Amount  float64 `bson:"amount"`
	Version int64   `bson:"version,version"`
}

func (i *invoice) IsNew() bool { return i.Version == 0 }
func (i *invoice) GetID() string { return i.ID }
func (i *invoice) SetID(id string) { i.ID = id }
func (i *invoice) GetVersion() int64 { return i.Version }
func (i *invoice) SetVersion(v int64) { i.Version = v }

func TestParseFilterMapIntoFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter map[string]any
		want   bson.D
	}{
		{"empty", nil, bson.D{}},
		{"equal", map[string]any{"number": "A-1"}, bson.D{{Key: "number", Value: "A-1"}}},
		{
			"sorted keys",
			map[string]any{"number": "A-1", "amount": 3.5},
			bson.D{{Key: "amount", Value: 3.5}, {Key: "number", Value: "A-1"}},
		},
		{"in list", map[string]any{"number": []string{"A", "B"}}, bson.D{{Key: "number", Value: bson.M{"$in": []string{"A", "B"}}}}},
		{"single element list", map[string]any{"number": []string{"A"}}, bson.D{{Key: "number", Value: "A"}}},
		{"is null", map[string]any{"paid": FilterNullFrom(true)}, bson.D{{Key: "paid", Value: bson.M{"$eq": nil}}}},
		{"is not null", map[string]any{"paid": FilterNullFrom(false)}, bson.D{{Key: "paid", Value: bson.M{"$ne": nil}}}},
		{
			"contains is escaped",
			map[string]any{"number": FilterStringContainsFrom("A.1")},
			bson.D{{Key: "number", Value: primitive.Regex{Pattern: `A\.1`}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseFilterMapIntoFilter(tt.filter))
		})
	}
}

func TestMongoKey(t *testing.T) {
	oid := primitive.NewObjectID()

	s, err := mongoKey[string]("i-1")
	require.NoError(t, err)
	assert.Equal(t, "i-1", s)

	_, err = mongoKey[string](oid)
	require.Error(t, err, "an ObjectID never becomes a string key")

	same, err := mongoKey[primitive.ObjectID](oid)
	require.NoError(t, err)
	assert.Equal(t, oid, same)

	n, err := mongoKey[int64](int32(12))
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	_, err = mongoKey[int64](oid)
	require.Error(t, err)
}

func TestMongoDocument(t *testing.T) {
	inv := &invoice{ID: "i-1", Number: "A-1", Amount: 10}

	plain, err := mongoDocument(DescribedBy(inv, nil))
	require.NoError(t, err)
	assert.Same(t, inv, plain)

	doc, err := mongoDocument(DescribedBy(inv, map[string]any{"tenant": "t1", "batch": 4}))
	require.NoError(t, err)

	d, ok := doc.(bson.D)
	require.True(t, ok)
	assert.Equal(t, bson.D{
		{Key: "_id", Value: "i-1"},
		{Key: "number", Value: "A-1"},
		{Key: "amount", Value: 10.0},
		{Key: "version", Value: int64(0)},
		{Key: "batch", Value: 4},
		{Key: "tenant", Value: "t1"},
	}, d)

	doc, err = mongoDocument(DescribedBy(&invoice{Number: "A-2"}, map[string]any{"_id": "k", "number": "B-2"}))
	require.NoError(t, err)
	assert.Equal(t, bson.D{
		{Key: "number", Value: "B-2"},
		{Key: "amount", Value: 0.0},
		{Key: "version", Value: int64(0)},
		{Key: "_id", Value: "k"},
	}, doc)
}

func TestIsStringKey(t *testing.T) {
	type code string

	assert.True(t, isStringKey[string]())
	assert.True(t, isStringKey[code]())
	assert.False(t, isStringKey[int64]())
	assert.False(t, isStringKey[primitive.ObjectID]())
	assert.Equal(t, code("abc"), stringKey[code]("abc"))
}

func TestWrapMongoError(t *testing.T) {
	assert.NoError(t, wrapMongoError(nil))
	assert.ErrorIs(t, wrapMongoError(mongo.ErrNoDocuments), ErrKeyNotFound)

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key"}}}
	assert.ErrorIs(t, wrapMongoError(dup), ErrKeyAlreadyExists)

	other := errors.New("boom")
	assert.Equal(t, other, wrapMongoError(other))
}

func TestCreateMongoRepository(t *testing.T) {
	ctx := context.Background()

	// connecting does not dial; no server is needed until the first operation
	client, err := mongo.Connect(ctx, mongoOptions.Client().ApplyURI("mongodb://127.0.0.1:1"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	repo, err := CreateMongoRepository[string, *invoice](client.Database("billing"), "invoices")
	require.NoError(t, err)

	def := repo.GetTableDef()
	assert.Equal(t, "invoices", def.Name)
	assert.Equal(t, "_id", def.KeyField)
	assert.Equal(t, []string{"_id", "number", "amount", "version"}, def.ColumnNames())

	err = repo.SQLExec(ctx, "DELETE FROM invoices", nil)
	require.Error(t, err)

	m := repo.(*mongoRepository[string, *invoice])
	assert.Equal(t, bson.D{{Key: "amount", Value: -1}, {Key: "number", Value: 1}}, m.sortDocument([]string{"-amount", "+number", "unknown"}))
}
