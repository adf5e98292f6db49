package multistore

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/iancoleman/strcase"
	"gopkg.in/guregu/null.v4"
)

// TableDef describes how an entity type maps onto a table or collection.
type TableDef struct {
	Schema       string
	Name         string
	KeyField     string
	KeyAuto      bool
	VersionField string
	VersionKind  VersionKind
	Columns      []ColumnInfo
}

func (td TableDef) FullTableName() string {
	name := td.Name
	if td.Schema != "" {
		name = fmt.Sprintf("%s.%s", td.Schema, td.Name)
	}
	return name
}

func (td TableDef) ColumnNames() []string {
	return Map(td.Columns, func(val ColumnInfo) string {
		return val.Name
	})
}

// Column returns the column called name, case-insensitively.
func (td TableDef) Column(name string) (ColumnInfo, bool) {
	for _, col := range td.Columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}

	return ColumnInfo{}, false
}

// insertColumns lists the columns written by an insert. The key column is
// left out when the database generates it.
func (td TableDef) insertColumns(source IDValueSource) []ColumnInfo {
	return Filter(td.Columns, func(col ColumnInfo) bool {
		return !(col.IsKey && source == IDGenerated)
	})
}

// updateColumns lists the columns in the SET clause of an update, which
// excludes the key and the version.
func (td TableDef) updateColumns() []ColumnInfo {
	return Filter(td.Columns, func(col ColumnInfo) bool {
		return !col.IsKey && !col.IsVersion
	})
}

// Column is a column as reported by the database.
type Column struct {
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
}

type ColumnInfo struct {
	Name       string
	Type       reflect.Type
	FieldIndex int
	Size       int
	IsAuto     bool
	IsKey      bool
	IsVersion  bool
	AllowNull  bool
}

func createTableDef(mtype reflect.Type, tag string) (TableDef, error) {
	if mtype.Kind() == reflect.Ptr {
		mtype = mtype.Elem()
	}

	if model, isModel := reflect.New(mtype).Interface().(Model); isModel {
		return resolveFieldIndexes(model.GetTableDef(), mtype, tag), nil
	}

	if model, isModel := reflect.Zero(mtype).Interface().(Model); isModel {
		return resolveFieldIndexes(model.GetTableDef(), mtype, tag), nil
	}

	return parseModel(mtype, tag)
}

// resolveFieldIndexes fills in the struct field positions of a table
// definition that was supplied by a Model.
func resolveFieldIndexes(def TableDef, mtype reflect.Type, tag string) TableDef {
	parsed, err := parseModel(mtype, tag)
	if err != nil {
		return def
	}

	cols := make([]ColumnInfo, len(def.Columns))
	for i, col := range def.Columns {
		if pc, ok := parsed.Column(col.Name); ok {
			col.FieldIndex = pc.FieldIndex
			if col.Type == nil {
				col.Type = pc.Type
			}
		}
		cols[i] = col
	}
	def.Columns = cols

	return def
}

func parseModel(model reflect.Type, tag string) (TableDef, error) {
	var def TableDef
	if model.Kind() != reflect.Struct {
		return def, fmt.Errorf("model must be a struct, got %s", model.Kind())
	}

	defaultName := strcase.ToSnake
	if tag == "bson" {
		defaultName = strings.ToLower
	}

	for i := 0; i < model.NumField(); i++ {
		field := model.Field(i)
		if field.Name == "DBTable" {
			def.Schema = field.Tag.Get("schema")
			def.Name = field.Tag.Get("name")
			continue
		}

		if field.PkgPath != "" {
			continue
		}

		tagValue := field.Tag.Get(tag)
		if tagValue == "-" {
			continue
		}

		name, size, isAuto, isKey, allowNull, isVersion := ParseDBTag(tagValue)
		if name == "" {
			name = defaultName(field.Name)
		}

		if tag == "bson" && name == "_id" {
			isKey = true
		}

		if isKey {
			if def.KeyField != "" {
				return def, fmt.Errorf("cannot have more than 1 key")
			}
			def.KeyField = name
			def.KeyAuto = isAuto
		}

		if isVersion {
			if def.VersionField != "" {
				return def, fmt.Errorf("cannot have more than 1 version")
			}

			kind, err := versionKindOf(field.Type)
			if err != nil {
				return def, fmt.Errorf("version field %s: %w", field.Name, err)
			}

			def.VersionField = name
			def.VersionKind = kind
		}

		def.Columns = append(def.Columns, ColumnInfo{
			Name:       name,
			Type:       field.Type,
			FieldIndex: i,
			Size:       size,
			AllowNull:  allowNull || isVersion && field.Type.Kind() == reflect.Ptr,
			IsAuto:     isAuto,
			IsKey:      isKey,
			IsVersion:  isVersion,
		})
	}

	if def.Name == "" {
		def.Name = strcase.ToSnake(model.Name())
	}

	return def, nil
}

var (
	nullIntType      = reflect.TypeOf(null.Int{})
	sqlNullInt64Type = reflect.TypeOf(sql.NullInt64{})
)

func versionKindOf(typ reflect.Type) (VersionKind, error) {
	switch typ {
	case nullIntType, sqlNullInt64Type:
		return VersionNullable, nil
	}

	if typ.Kind() == reflect.Ptr && isIntKind(typ.Elem().Kind()) {
		return VersionNullable, nil
	}

	if isIntKind(typ.Kind()) {
		return VersionPrimitive, nil
	}

	return VersionNone, fmt.Errorf("unsupported version type %s", typ)
}

func isIntKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}

	return false
}
