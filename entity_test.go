package multistore

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v4"
)

// person has a generated key and a nullable version.
type person struct {
	DBTable   `name:"t_person"`
	ID        int64    `db:"id,key auto"`
	Name      string   `db:"name,size=256"`
	CompanyID null.Int `db:"company_id,allownull"`
	Version   *int64   `db:"version,version"`
}

func (p *person) IsNew() bool { return p.Version == nil }
func (p *person) GetID() int64 { return p.ID }
func (p *person) SetID(id int64) { p.ID = id }
func (p *person) SetVersion(v int64) { p.Version = &v }

func (p *person) GetVersion() int64 {
	if p.Version == nil {
		return 0
	}
	return *p.Version
}

// company has a generated key and no version.
type company struct {
	ID   int64  `db:"id,key auto"`
	Name string `db:"name,size=128"`
}

func (c *company) IsNew() bool { return c.ID == 0 }
func (c *company) GetID() int64 { return c.ID }
func (c *company) SetID(id int64) { c.ID = id }

// account has a client supplied key and a primitive version.
type account struct {
	DBTable `name:"account"`
	ID      string `db:"id,key size=36"`
	Owner   string `db:"owner,size=64"`
	Version int64  `db:"version,version"`
}

func (a *account) IsNew() bool { return a.Version == 0 }
func (a *account) GetID() string { return a.ID }
func (a *account) SetID(id string) { a.ID = id }
func (a *account) GetVersion() int64 { return a.Version }
func (a *account) SetVersion(v int64) { a.Version = v }

func tableDefOf(t *testing.T, entity any) TableDef {
	t.Helper()

	def, err := createTableDef(reflect.TypeOf(entity), "db")
	require.NoError(t, err)
	return def
}

func TestIDValueSourceFor(t *testing.T) {
	personDef := tableDefOf(t, person{})
	accountDef := tableDefOf(t, account{})
	keyless := personDef
	keyless.KeyField = ""

	tests := []struct {
		name string
		got  IDValueSource
		want IDValueSource
	}{
		{"zero generated key", IDValueSourceFor[int64](&person{}, personDef), IDGenerated},
		{"key already set", IDValueSourceFor[int64](&person{ID: 4}, personDef), IDProvided},
		{"client key", IDValueSourceFor[string](&account{ID: "a-1"}, accountDef), IDProvided},
		{"empty client key", IDValueSourceFor[string](&account{}, accountDef), IDGenerated},
		{"no key column", IDValueSourceFor[int64](&person{ID: 4}, keyless), IDNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestIDValueSource_String(t *testing.T) {
	assert.Equal(t, "GENERATED", IDGenerated.String())
	assert.Equal(t, "PROVIDED", IDProvided.String())
	assert.Equal(t, "NONE", IDNone.String())
}

func TestVersionKind_InitialVersion(t *testing.T) {
	assert.Equal(t, int64(1), VersionPrimitive.InitialVersion())
	assert.Equal(t, int64(0), VersionNullable.InitialVersion())
}

func TestDescribedBy(t *testing.T) {
	p := &person{Name: "a"}

	s := DescribedBy(p, map[string]any{"company_id": 3})
	assert.Same(t, p, s.Instance)
	assert.Equal(t, 3, s.Identifier["company_id"])

	empty := DescribedBy(p, nil)
	assert.Empty(t, empty.Identifier)
}
