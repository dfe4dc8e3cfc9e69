package types

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is a UUID wrapper shared by every persisted entity.
type ID string

// seedNamespace scopes deterministic IDs handed out to seeded records.
var seedNamespace = uuid.MustParse("0b7c4c3e-5f5e-4b8e-9a3f-1f6f5a0d2c11")

// NewID generates a new random ID
func NewID() ID {
	return ID(uuid.New().String())
}

// NewSeedID returns the same ID for the same kind+code pair on every run,
// so startup seeding can upsert archetypes and roles without lookups.
func NewSeedID(kind, code string) ID {
	return ID(uuid.NewSHA1(seedNamespace, []byte(kind+":"+code)).String())
}

// ParseID parses a string into an ID
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid ID: %w", err)
	}
	return ID(u.String()), nil
}

// String returns the string representation
func (id ID) String() string {
	return string(id)
}

// IsZero checks if the ID is empty
func (id ID) IsZero() bool {
	return id == ""
}

// Ptr returns a pointer to a copy of id, or nil for the zero ID.
func (id ID) Ptr() *ID {
	if id.IsZero() {
		return nil
	}
	return &id
}

// Value implements driver.Valuer for database serialization
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return string(id), nil
}

// Scan implements sql.Scanner for database deserialization
func (id *ID) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*id = ""
	case string:
		*id = ID(v)
	case []byte:
		*id = ID(string(v))
	case [16]byte:
		*id = ID(uuid.UUID(v).String())
	default:
		return fmt.Errorf("cannot scan %T into ID", value)
	}
	return nil
}
