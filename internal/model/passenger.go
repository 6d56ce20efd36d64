package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldRole marks the meaning of a passenger field independently of its
// display label.  Identity detection and blacklist checks key off
// RoleIdentity only.
type FieldRole string

const (
	RolePlain    FieldRole = ""
	RoleIdentity FieldRole = "identity"
	RoleName     FieldRole = "name"
	RoleContact  FieldRole = "contact"
)

// PassengerField declares one key accepted in a passenger record.
type PassengerField struct {
	Key      string    `json:"key"`
	Label    string    `json:"label"`
	Required bool      `json:"required"`
	Role     FieldRole `json:"role,omitempty"`
}

// PassengerSchema is the versioned set of fields a trip accepts for each
// passenger.  It is fetched once per reservation attempt.
type PassengerSchema struct {
	Version int              `json:"version"`
	Fields  []PassengerField `json:"fields"`
}

// Passenger is the raw passenger record supplied by the caller, keyed by
// PassengerField.Key.
type Passenger map[string]string

// PassengerSnapshot is the immutable form stored on holds and tickets.
type PassengerSnapshot struct {
	SchemaVersion int               `json:"schema_version"`
	Fields        map[string]string `json:"fields"`
}

// Validate checks p against the schema.  Unknown keys and missing
// required values are rejected.  Values are trimmed.
func (s PassengerSchema) Validate(p Passenger) (Passenger, error) {
	known := make(map[string]PassengerField, len(s.Fields))
	for _, f := range s.Fields {
		known[f.Key] = f
	}
	out := make(Passenger, len(p))
	for k, v := range p {
		if _, ok := known[k]; !ok {
			return nil, fmt.Errorf("unknown passenger field %q", k)
		}
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	for _, f := range s.Fields {
		if f.Required && out[f.Key] == "" {
			return nil, fmt.Errorf("passenger field %q is required", f.Key)
		}
	}
	return out, nil
}

// Identity returns the normalised value of the first identity field, or
// "" when the schema has none or the passenger left it blank.
func (s PassengerSchema) Identity(p Passenger) string {
	for _, f := range s.Fields {
		if f.Role == RoleIdentity {
			return strings.ToLower(strings.TrimSpace(p[f.Key]))
		}
	}
	return ""
}

// Snapshot serialises a validated passenger for storage.
func (s PassengerSchema) Snapshot(p Passenger) (json.RawMessage, error) {
	return json.Marshal(PassengerSnapshot{SchemaVersion: s.Version, Fields: p})
}
