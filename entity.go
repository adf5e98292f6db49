package multistore

// Entity is implemented by every record a repository can batch save.
// IsNew decides whether the record still lacks a persisted identity.
type Entity[K comparable] interface {
	IsNew() bool
	GetID() K
	SetID(id K)
}

// Versioned is implemented by entities carrying an optimistic-lock version.
type Versioned interface {
	GetVersion() int64
	SetVersion(version int64)
}

// IDValueSource tells a bulk insert where the key values come from.
type IDValueSource int

const (
	// IDNone means the entity has no key column.
	IDNone IDValueSource = iota
	// IDGenerated means the database assigns the key on insert.
	IDGenerated
	// IDProvided means the caller set the key before insert.
	IDProvided
)

func (s IDValueSource) String() string {
	switch s {
	case IDGenerated:
		return "GENERATED"
	case IDProvided:
		return "PROVIDED"
	default:
		return "NONE"
	}
}

// IDValueSourceFor classifies instance against def. A table without key
// field yields IDNone, a zero key IDGenerated, anything else IDProvided.
func IDValueSourceFor[K comparable](instance Entity[K], def TableDef) IDValueSource {
	if def.KeyField == "" {
		return IDNone
	}

	var zero K
	if instance.GetID() == zero {
		return IDGenerated
	}

	return IDProvided
}

// InsertSubject pairs an instance with foreign key column values to be
// written alongside it.
type InsertSubject[T any] struct {
	Instance   T
	Identifier map[string]any
}

// DescribedBy creates an InsertSubject for instance with the given identifier
// columns. A nil identifier is valid.
func DescribedBy[T any](instance T, identifier map[string]any) InsertSubject[T] {
	return InsertSubject[T]{
		Instance:   instance,
		Identifier: identifier,
	}
}

// VersionKind describes the declared type of a version column.
type VersionKind int

const (
	VersionNone VersionKind = iota
	// VersionPrimitive is a plain integer field, starting at 1.
	VersionPrimitive
	// VersionNullable is a pointer or null wrapper field, starting at 0.
	VersionNullable
)

// InitialVersion returns the version assigned to a new entity on insert.
func (k VersionKind) InitialVersion() int64 {
	if k == VersionPrimitive {
		return 1
	}

	return 0
}
