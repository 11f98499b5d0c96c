// Package fact defines the versioned assertion about an entity field that
// flows through factwire: producers submit a Candidate, the validator turns
// it into a Fact, the store keeps one current Fact per Key plus an
// append-only history, and the bus fans admitted Facts out to subscribers.
package fact

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/factwire/errors"
)

// Fact is one admitted observation of an entity field.
type Fact struct {
	ID            string     `json:"id"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	Field         string     `json:"field"`
	Value         any        `json:"value"`
	PreviousValue any        `json:"previous_value"`
	Source        string     `json:"source"`
	SourceURL     string     `json:"source_url,omitempty"`
	Confidence    float64    `json:"confidence"`
	VerifiedBy    string     `json:"verified_by,omitempty"`
	EffectiveDate *time.Time `json:"effective_date"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Importance    Importance `json:"importance"`

	RequiresHumanReview bool   `json:"requires_human_review"`
	ReducedConfidence   bool   `json:"reduced_confidence"`
	Sequence            uint64 `json:"sequence"`
}

// Key returns the logical slot the fact occupies
func (f *Fact) Key() Key {
	return Key{EntityType: f.EntityType, EntityID: f.EntityID, Field: f.Field}
}

// EntityRef is "entity_type:entity_id"
func (f *Fact) EntityRef() string {
	return f.EntityType + ":" + f.EntityID
}

// Clone returns a deep copy. Value and PreviousValue maps and slices are
// copied so the clone shares no mutable state with f.
func (f *Fact) Clone() *Fact {
	if f == nil {
		return nil
	}
	c := *f
	c.Value = DeepCopy(f.Value)
	c.PreviousValue = DeepCopy(f.PreviousValue)
	if f.EffectiveDate != nil {
		d := *f.EffectiveDate
		c.EffectiveDate = &d
	}
	return &c
}

// Key identifies the slot (entity_type, entity_id, field). At most one
// current fact exists per Key.
type Key struct {
	EntityType string
	EntityID   string
	Field      string
}

// String renders "entity_type:entity_id:field"
func (k Key) String() string {
	return k.EntityType + ":" + k.EntityID + ":" + k.Field
}

// ID is the deterministic fact ID for the key
func (k Key) ID() string {
	return NewID(k.EntityType, k.EntityID, k.Field)
}

// NewID derives the fact ID: the first 12 hex characters of
// md5("entity_type:entity_id:field"). It never depends on value or time,
// so every version of a key shares one ID.
func NewID(entityType, entityID, field string) string {
	sum := md5.Sum([]byte(entityType + ":" + entityID + ":" + field))
	return hex.EncodeToString(sum[:])[:12]
}

// Candidate is what a producer submits.
type Candidate struct {
	EntityType    string     `json:"entity_type" yaml:"entity_type"`
	EntityID      string     `json:"entity_id" yaml:"entity_id"`
	Field         string     `json:"field" yaml:"field"`
	Value         any        `json:"value" yaml:"value"`
	Source        string     `json:"source" yaml:"source"`
	SourceURL     string     `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	VerifiedBy    string     `json:"verified_by,omitempty" yaml:"verified_by,omitempty"`
	EffectiveDate *time.Time `json:"effective_date,omitempty" yaml:"effective_date,omitempty"`
}

// Key returns the slot the candidate targets
func (c Candidate) Key() Key {
	return Key{EntityType: c.EntityType, EntityID: c.EntityID, Field: c.Field}
}

// Validate checks the candidate shape
func (c Candidate) Validate() error {
	var missing []string
	if strings.TrimSpace(c.EntityType) == "" {
		missing = append(missing, "entity_type")
	}
	if strings.TrimSpace(c.EntityID) == "" {
		missing = append(missing, "entity_id")
	}
	if strings.TrimSpace(c.Field) == "" {
		missing = append(missing, "field")
	}
	if strings.TrimSpace(c.Source) == "" {
		missing = append(missing, "source")
	}
	if c.Value == nil {
		missing = append(missing, "value")
	}
	if len(missing) > 0 {
		return errors.Wrapf(errors.ErrInvalidRequest, "candidate missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Fact builds an unadmitted fact from the candidate. Store-owned fields
// (timestamps, previous value, sequence) and validator-owned fields
// (confidence, importance) are left zero.
func (c Candidate) Fact() *Fact {
	f := &Fact{
		ID:         NewID(c.EntityType, c.EntityID, c.Field),
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Field:      c.Field,
		Value:      DeepCopy(c.Value),
		Source:     c.Source,
		SourceURL:  c.SourceURL,
		VerifiedBy: c.VerifiedBy,
	}
	if c.EffectiveDate != nil {
		d := *c.EffectiveDate
		f.EffectiveDate = &d
	}
	return f
}

// UnmarshalJSON accepts effective_date as RFC 3339 or a bare date
// (2006-01-02) and decodes numbers as json.Number so integer values
// survive exactly.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	type plain Candidate
	var raw struct {
		plain
		Value         json.RawMessage `json:"value"`
		EffectiveDate string          `json:"effective_date,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Candidate(raw.plain)
	c.Value = nil
	c.EffectiveDate = nil

	if len(raw.Value) > 0 {
		v, err := DecodeValue(raw.Value)
		if err != nil {
			return errors.Wrap(err, "decode value")
		}
		c.Value = v
	}
	if raw.EffectiveDate != "" {
		t, err := ParseDate(raw.EffectiveDate)
		if err != nil {
			return err
		}
		c.EffectiveDate = &t
	}
	return nil
}

// DecodeValue decodes a JSON value with numbers kept as json.Number.
// A JSON null decodes to nil.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseLiteral interprets a command-line or tool argument: valid JSON
// decodes as JSON, anything else is kept as the string itself.
func ParseLiteral(s string) any {
	if !json.Valid([]byte(s)) {
		return s
	}
	if v, err := DecodeValue([]byte(s)); err == nil && v != nil {
		return v
	}
	return s
}

// ParseDate parses RFC 3339 timestamps and bare 2006-01-02 dates (UTC)
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidRequest, "effective_date %q is not RFC 3339 or YYYY-MM-DD", s)
	}
	return t, nil
}
