package multistore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

type mongoRepository[K comparable, T Entity[K]] struct {
	repository
	db         *mongo.Database
	collection *mongo.Collection
}

// CreateMongoRepository returns a repository for T on the collection
// collName of db. An empty collName uses the table name of the model.
func CreateMongoRepository[K comparable, T Entity[K]](db *mongo.Database, collName string, options ...RepositoryOption) (Repository[K, T], error) {
	opt := newOption(options)
	if opt.name == "" {
		opt.name = collName
	}

	base, err := newRepository[T]("bson", opt)
	if err != nil {
		return nil, err
	}

	repo := &mongoRepository[K, T]{
		repository: base,
		db:         db,
		collection: db.Collection(base.tableDef.Name),
	}

	if opt.initValues != nil {
		if err := repo.init(context.Background(), opt.initValues); err != nil {
			return nil, err
		}
	}

	return repo, nil
}

func (m *mongoRepository[K, T]) init(ctx context.Context, values any) error {
	vals, err := initValues[T](values)
	if err != nil {
		return err
	}

	_, err = m.BatchSave(ctx, vals)
	return err
}

func (m *mongoRepository[K, T]) Get(ctx context.Context, id K, options ...QueryOption) (T, error) {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	var zero T
	dest := newEntity[T](m.modelType)
	filter := bson.D{{Key: m.tableDef.KeyField, Value: id}}
	if err := m.collection.FindOne(ctx, filter).Decode(dest); err != nil {
		return zero, wrapMongoError(err)
	}

	return dest, nil
}

func (m *mongoRepository[K, T]) Select(ctx context.Context, filterMap map[string]any, options ...QueryOption) ([]T, error) {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	if err := m.checkFilter(filterMap); err != nil {
		return nil, err
	}

	findOpts := mongoOptions.Find()
	if sorter := m.sortDocument(opt.Sorter); len(sorter) > 0 {
		findOpts.SetSort(sorter)
	}
	if opt.Limit > 0 {
		findOpts.SetLimit(int64(opt.Limit))
	}
	if opt.Offset > 0 {
		findOpts.SetSkip(opt.Offset)
	}

	cur, err := m.collection.Find(ctx, parseFilterMapIntoFilter(filterMap), findOpts)
	if err != nil {
		return nil, wrapMongoError(err)
	}
	defer cur.Close(ctx)

	var dest []T
	if err := cur.All(ctx, &dest); err != nil {
		return nil, wrapMongoError(err)
	}

	return dest, nil
}

func (m *mongoRepository[K, T]) Count(ctx context.Context, filterMap map[string]any, options ...QueryOption) (int64, error) {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	if err := m.checkFilter(filterMap); err != nil {
		return 0, err
	}

	n, err := m.collection.CountDocuments(ctx, parseFilterMapIntoFilter(filterMap))
	if err != nil {
		return 0, wrapMongoError(err)
	}

	return n, nil
}

func (m *mongoRepository[K, T]) SQLQuery(ctx context.Context, dest any, sqlStr string, args []interface{}, options ...QueryOption) error {
	return fmt.Errorf("the database does not support SQL Query")
}

func (m *mongoRepository[K, T]) SQLExec(ctx context.Context, sqlStr string, args []interface{}, options ...QueryOption) error {
	return fmt.Errorf("the database does not support SQL Query")
}

func (m *mongoRepository[K, T]) Insert(ctx context.Context, value T, options ...QueryOption) (K, error) {
	var zeroKey K

	ids, err := m.InsertAll(ctx, []T{value}, options...)
	if err != nil {
		return zeroKey, err
	}

	return ids[0], nil
}

func (m *mongoRepository[K, T]) InsertAll(ctx context.Context, values []T, options ...QueryOption) ([]K, error) {
	opt := newQueryOption(options)
	if err := checkBatchArguments(len(values), opt.BatchSize); err != nil {
		return nil, err
	}

	ctx = m.setTransactionContext(ctx, opt)
	prepareVersions(m.tableDef, values)

	ids := make([]K, 0, len(values))
	for _, batch := range SplitBatch(values, opt.BatchSize) {
		subjects := Map(batch, func(val T) InsertSubject[T] {
			return DescribedBy(val, nil)
		})

		source := IDValueSourceFor[K](batch[0], m.tableDef)
		keys, err := m.bulkInsert(ctx, subjects, source, opt.IgnoreDuplicate)
		if err != nil {
			return nil, err
		}

		if source == IDGenerated {
			if len(keys) != len(batch) {
				return nil, fmt.Errorf("%w: %d keys returned for %d documents of %s",
					ErrGeneratedKeys, len(keys), len(batch), m.tableDef.Name)
			}

			for i := range keys {
				batch[i].SetID(keys[i])
			}
		}

		for _, val := range batch {
			ids = append(ids, val.GetID())
		}
	}

	return ids, nil
}

func (m *mongoRepository[K, T]) Update(ctx context.Context, id K, keyvals map[string]any, options ...QueryOption) error {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	if len(keyvals) == 0 {
		return fmt.Errorf("%w: nothing to update", ErrInvalidArgument)
	}

	if err := m.checkFilter(keyvals); err != nil {
		return err
	}

	up, err := m.collection.UpdateByID(ctx, id, bson.M{"$set": bson.M(keyvals)})
	if err != nil {
		return wrapMongoError(err)
	}

	if up.MatchedCount == 0 {
		return fmt.Errorf("%w: %v in %s", ErrKeyNotFound, id, m.tableDef.Name)
	}

	return nil
}

func (m *mongoRepository[K, T]) Save(ctx context.Context, value T, options ...QueryOption) (T, error) {
	var zero T

	saved, err := m.BatchSave(ctx, []T{value}, options...)
	if err != nil {
		return zero, err
	}

	return saved[0], nil
}

// BatchSave runs in the session of WithTransaction when one is given.
// Without it the writes are not atomic, since MongoDB transactions need a
// replica set.
func (m *mongoRepository[K, T]) BatchSave(ctx context.Context, values []T, options ...QueryOption) ([]T, error) {
	opt := newQueryOption(options)
	if err := checkBatchArguments(len(values), opt.BatchSize); err != nil {
		return nil, err
	}

	ctx = m.setTransactionContext(ctx, opt)
	upserter, err := NewBatchUpserter[K, T](&mongoDataAccess[K, T]{repo: m}, m.tableDef, m.upserterOptions()...)
	if err != nil {
		return nil, err
	}

	return upserter.BatchUpsert(ctx, values, opt.BatchSize)
}

func (m *mongoRepository[K, T]) Delete(ctx context.Context, id []K, options ...QueryOption) error {
	opt := newQueryOption(options)
	ctx = m.setTransactionContext(ctx, opt)

	res, err := m.collection.DeleteMany(ctx, bson.D{{Key: m.tableDef.KeyField, Value: bson.M{"$in": id}}})
	if err != nil {
		return wrapMongoError(err)
	}

	m.logger.Debug().Int64("deleted", res.DeletedCount).Msg("deleted documents")
	return nil
}

func (m *mongoRepository[K, T]) Begin(ctx context.Context) (Transaction, error) {
	return beginMongoTransaction(ctx, m.db)
}

func (m *mongoRepository[K, T]) bulkInsert(ctx context.Context, subjects []InsertSubject[T], source IDValueSource, ignoreDuplicate bool) ([]K, error) {
	hexKeys := source == IDGenerated && isStringKey[K]()
	if hexKeys {
		subjects = m.withHexKeys(subjects)
	}

	docs := make([]interface{}, len(subjects))
	for i, s := range subjects {
		doc, err := mongoDocument(s)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}

	insertOpts := mongoOptions.InsertMany().SetOrdered(!ignoreDuplicate)
	res, err := m.collection.InsertMany(ctx, docs, insertOpts)
	if err != nil && !(ignoreDuplicate && mongo.IsDuplicateKeyError(err)) {
		return nil, wrapMongoError(err)
	}

	if source != IDGenerated {
		return nil, nil
	}

	if hexKeys {
		return Map(subjects, func(s InsertSubject[T]) K {
			return stringKey[K](s.Identifier[m.tableDef.KeyField].(string))
		}), nil
	}

	if res == nil {
		return nil, nil
	}

	ids := make([]K, 0, len(res.InsertedIDs))
	for _, raw := range res.InsertedIDs {
		id, err := mongoKey[K](raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// withHexKeys gives every subject a new ObjectID in hex form as its key, so
// that the stored _id is a string like the keys used to look it up.
func (m *mongoRepository[K, T]) withHexKeys(subjects []InsertSubject[T]) []InsertSubject[T] {
	keyed := make([]InsertSubject[T], len(subjects))
	for i, s := range subjects {
		ident := make(map[string]any, len(s.Identifier)+1)
		for k, v := range s.Identifier {
			ident[k] = v
		}
		ident[m.tableDef.KeyField] = primitive.NewObjectID().Hex()
		keyed[i] = DescribedBy(s.Instance, ident)
	}

	return keyed
}

// bulkUpdate replaces every record in one BulkWrite. Versioned records are
// matched on their current version and carry the next one; on failure the
// in-memory versions are restored.
func (m *mongoRepository[K, T]) bulkUpdate(ctx context.Context, records []T) error {
	def := m.tableDef
	versioned := def.VersionKind != VersionNone

	current := make([]int64, len(records))
	models := make([]mongo.WriteModel, len(records))
	for i, rec := range records {
		filter := bson.D{{Key: def.KeyField, Value: rec.GetID()}}
		if v, ok := any(rec).(Versioned); versioned && ok {
			current[i] = v.GetVersion()
			filter = append(filter, bson.E{Key: def.VersionField, Value: current[i]})
			v.SetVersion(current[i] + 1)
		}

		models[i] = mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(rec)
	}

	restore := func() {
		if !versioned {
			return
		}
		for i, rec := range records {
			if v, ok := any(rec).(Versioned); ok {
				v.SetVersion(current[i])
			}
		}
	}

	res, err := m.collection.BulkWrite(ctx, models, mongoOptions.BulkWrite().SetOrdered(true))
	if err != nil {
		restore()
		return wrapMongoError(err)
	}

	if res.MatchedCount < int64(len(records)) {
		restore()
		if versioned {
			return fmt.Errorf("%w: %d of %d documents of %s matched", ErrOptimisticLock, res.MatchedCount, len(records), def.Name)
		}
		return fmt.Errorf("%w: %d of %d documents of %s matched", ErrKeyNotFound, res.MatchedCount, len(records), def.Name)
	}

	return nil
}

func (m *mongoRepository[K, T]) sortDocument(sorter []string) bson.D {
	fields := m.sortFieldMap()

	var doc bson.D
	for _, s := range sorter {
		if s == "" {
			continue
		}

		dir := 1
		field := s
		switch s[:1] {
		case "-":
			dir = -1
			field = s[1:]
		case "+":
			field = s[1:]
		}

		name, ok := fields[strings.ToLower(field)]
		if !ok {
			continue
		}
		doc = append(doc, bson.E{Key: name, Value: dir})
	}

	return doc
}

func (m *mongoRepository[K, T]) setTransactionContext(ctx context.Context, opt *queryOption) context.Context {
	if opt.Tx != nil {
		tx, ok := opt.Tx.(*mongoTransaction)
		if ok {
			return tx.sctx
		}
	}

	return ctx
}

// mongoDocument marshals the instance of s and adds its identifier fields.
func mongoDocument[T any](s InsertSubject[T]) (interface{}, error) {
	if len(s.Identifier) == 0 {
		return s.Instance, nil
	}

	raw, err := bson.Marshal(s.Instance)
	if err != nil {
		return nil, err
	}

	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(s.Identifier))
	for k := range s.Identifier {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		doc = setElement(doc, k, s.Identifier[k])
	}

	return doc, nil
}

func setElement(doc bson.D, key string, value any) bson.D {
	for i := range doc {
		if doc[i].Key == key {
			doc[i].Value = value
			return doc
		}
	}

	return append(doc, bson.E{Key: key, Value: value})
}

// mongoKey converts an inserted id into K.
func mongoKey[K comparable](raw interface{}) (K, error) {
	if k, ok := raw.(K); ok {
		return k, nil
	}

	return convertKey[K](raw)
}

func stringKey[K comparable](s string) K {
	var key K
	return reflect.ValueOf(s).Convert(reflect.TypeOf(key)).Interface().(K)
}

func isStringKey[K comparable]() bool {
	var key K
	kt := reflect.TypeOf(key)
	return kt != nil && kt.Kind() == reflect.String
}

func parseFilterMapIntoFilter(filterMap map[string]any) bson.D {
	keys := make([]string, 0, len(filterMap))
	for k := range filterMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var filter = bson.D{}
	for _, k := range keys {
		v := filterMap[k]

		if fnull, ok := v.(FilterNull); ok {
			op := "$eq"
			if !fnull.IsNull() {
				op = "$ne"
			}
			filter = append(filter, bson.E{Key: k, Value: bson.M{op: nil}})
			continue
		}

		if fcontain, ok := v.(FilterStringContains); ok {
			pattern := regexp.QuoteMeta(strings.Trim(fcontain.Contains(), "%"))
			filter = append(filter, bson.E{Key: k, Value: primitive.Regex{Pattern: pattern}})
			continue
		}

		vval := reflect.ValueOf(v)
		if vval.Kind() != reflect.Slice || vval.Type().Elem().Kind() == reflect.Uint8 {
			filter = append(filter, bson.E{Key: k, Value: v})
			continue
		}

		if vval.Len() > 0 {
			if f, err := parameterizedFilterCriteriaBson(k, v); err == nil {
				filter = append(filter, f)
			}
		}
	}

	return filter
}

func parameterizedFilterCriteriaBson(fieldname string, values any) (bson.E, error) {
	vtype := reflect.TypeOf(values)
	if vtype.Kind() == reflect.Ptr {
		vtype = vtype.Elem()
	}

	if vtype.Kind() != reflect.Slice {
		return bson.E{}, fmt.Errorf("expecting slice as values, got %s", vtype.Kind().String())
	}

	s := reflect.ValueOf(values)
	if s.Len() == 0 {
		return bson.E{}, fmt.Errorf("cannot use empty slice to parameterized")
	}

	var filter bson.E
	if s.Len() > 1 {
		filter = bson.E{Key: fieldname, Value: bson.M{"$in": values}}
	} else {
		filter = bson.E{Key: fieldname, Value: s.Index(0).Interface()}
	}

	return filter, nil
}

func wrapMongoError(err error) error {
	if err == nil {
		return nil
	}

	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", ErrKeyAlreadyExists, err)
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w. %s", ErrKeyNotFound, err.Error())
	}

	return err
}

func beginMongoTransaction(ctx context.Context, db *mongo.Database) (Transaction, error) {
	session, err := db.Client().StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create mongodb session. %w", err)
	}

	sctx := mongo.NewSessionContext(ctx, session)

	txnOpts := mongoOptions.Transaction().
		SetWriteConcern(writeconcern.Majority()).
		SetReadConcern(readconcern.Snapshot())

	if err := session.StartTransaction(txnOpts); err != nil {
		session.EndSession(ctx)
		return nil, err
	}

	return &mongoTransaction{
		session: session,
		sctx:    sctx,
	}, nil
}

type mongoTransaction struct {
	session mongo.Session
	sctx    mongo.SessionContext
}

func (tx *mongoTransaction) Rollback(ctx context.Context) error {
	defer tx.session.EndSession(ctx)
	return tx.session.AbortTransaction(ctx)
}

func (tx *mongoTransaction) Commit(ctx context.Context) error {
	defer tx.session.EndSession(ctx)
	return tx.session.CommitTransaction(tx.sctx)
}

// mongoDataAccess is the DataAccessStrategy of a MongoDB repository.
type mongoDataAccess[K comparable, T Entity[K]] struct {
	repo *mongoRepository[K, T]
}

func (a *mongoDataAccess[K, T]) BulkInsert(ctx context.Context, subjects []InsertSubject[T], source IDValueSource) ([]K, error) {
	return a.repo.bulkInsert(ctx, subjects, source, false)
}

func (a *mongoDataAccess[K, T]) BulkUpdate(ctx context.Context, records []T) error {
	return a.repo.bulkUpdate(ctx, records)
}
