// Package records holds the read-only user collection served by the listing core.
//
// A Store is built once, from a JSON file or from the embedded sample dataset,
// and never mutated afterwards.
package records

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
)

// Sortable field keys.
const (
	FieldID          = "id"
	FieldName        = "name"
	FieldCountryCode = "countryCode"
	FieldSex         = "sex"
)

// Error variables for record loading.
var (
	ErrDuplicateID = errors.New("duplicate record id")
	ErrEmptyPath   = errors.New("records path is empty")
)

//go:embed data/users.json
var sampleData []byte

// User is a single listed record.
type User struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name" validate:"required"`
	CountryCode string `json:"countryCode" validate:"required,len=2"`
	Sex         string `json:"sex" validate:"required"`
}

// Field returns the value of the attribute named by key.
func (u User) Field(key string) (string, bool) {
	switch key {
	case FieldID:
		return u.ID, true
	case FieldName:
		return u.Name, true
	case FieldCountryCode:
		return u.CountryCode, true
	case FieldSex:
		return u.Sex, true
	default:
		return "", false
	}
}

// Store is an immutable ordered collection of users.
type Store struct {
	users []User
	index map[string]int
}

// NewStore creates a store from users, preserving their order.
// It fails when two users share an id.
func NewStore(users []User) (*Store, error) {
	s := &Store{
		users: slices.Clone(users),
		index: make(map[string]int, len(users)),
	}

	for i, u := range s.users {
		if _, exists := s.index[u.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, u.ID)
		}
		s.index[u.ID] = i
	}

	return s, nil
}

// All returns the users in load order. The returned slice is a copy.
func (s *Store) All() []User {
	return slices.Clone(s.users)
}

// Len returns the number of users.
func (s *Store) Len() int {
	return len(s.users)
}

// Get looks up a user by id.
func (s *Store) Get(id string) (User, bool) {
	i, ok := s.index[id]
	if !ok {
		return User{}, false
	}
	return s.users[i], true
}

// Decode reads a JSON array of users and validates every entry.
func Decode(r io.Reader) (*Store, error) {
	var users []User
	if err := json.NewDecoder(r).Decode(&users); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	v := validator.New()
	for i := range users {
		if err := v.Struct(users[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	return NewStore(users)
}

// Load reads the users file at path from fs.
func Load(fs afero.Fs, path string) (*Store, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records file: %w", err)
	}
	defer f.Close()

	store, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	return store, nil
}

// Sample returns a store over the embedded sample dataset.
func Sample() (*Store, error) {
	return Decode(bytes.NewReader(sampleData))
}
