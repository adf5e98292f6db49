package multistore

// Model lets an entity supply its table definition instead of having it
// parsed from struct tags.
type Model interface {
	GetTableDef() TableDef
}

// DBTable is a marker field carrying the schema and table name of a model:
//
//	type Person struct {
//		DBTable `schema:"app" name:"t_person"`
//		ID      int64 `db:"id,key auto"`
//	}
type DBTable struct{}

type genericModel struct {
	tableDef TableDef
}

func (g genericModel) GetTableDef() TableDef {
	return g.tableDef
}

func CreateGenericModel(tb TableDef) Model {
	return genericModel{
		tableDef: tb,
	}
}
