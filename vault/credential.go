// Package vault holds the unlocked, in-memory side of the vault: credential
// records, their serialized payload, and the session that owns the derived
// key and the decrypted records.
package vault

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/uoar/pass-manager/crypto"
	verrors "github.com/uoar/pass-manager/internal/errors"
)

// DefaultCategory is assigned to records saved without a category.
const DefaultCategory = "default"

// Record is a stored credential with metadata. Secret is a byte slice so it
// can be wiped; it is the only field treated as secret material.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Username  string    `json:"username,omitempty"`
	Secret    []byte    `json:"secret"`
	URL       string    `json:"url,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Copy returns a deep copy of the record.
func (r Record) Copy() Record {
	out := r
	out.Secret = bytes.Clone(r.Secret)
	return out
}

// Validate checks if the record has required fields. Text fields must be
// valid UTF-8 or they would not survive a save.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return verrors.ErrTitleRequired
	}
	for _, f := range r.textFields() {
		if !utf8.ValidString(f.value) {
			return fmt.Errorf("%w: %s is not valid UTF-8", verrors.ErrInvalidParameter, f.name)
		}
	}
	return nil
}

type textField struct {
	name  string
	value string
}

func (r Record) textFields() []textField {
	return []textField{
		{"title", r.Title},
		{"username", r.Username},
		{"url", r.URL},
		{"category", r.Category},
		{"notes", r.Notes},
	}
}

// Wipe zeroes the secret value in place.
func (r *Record) Wipe() {
	crypto.Wipe(r.Secret)
	r.Secret = nil
}

// matches reports whether query (already lower-cased) occurs in any of the
// searchable text fields.
func (r Record) matches(query string) bool {
	for _, f := range r.textFields() {
		if strings.Contains(strings.ToLower(f.value), query) {
			return true
		}
	}
	return false
}
