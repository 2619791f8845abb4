package record

import "fmt"

// Field names used to extract the known attributes from a raw source
// document. Source adapters may override them per collection; every
// component that needs them must take them from here rather than restating
// the literals.
const (
	DefaultIdentifierField = "product_code"
	DefaultApprovalField   = "approved"
)

// Record is one candidate item pulled from the record source. The known
// fields are explicit; everything else the source carries stays in Fields
// as an opaque payload for downstream consumers.
type Record struct {
	// ProductCode is the business identifier the cache key derives from.
	ProductCode string

	// DocumentID is the originating document's id in the record source.
	DocumentID string

	// Approval is the raw, unnormalized approval-status value.
	Approval string

	// Fields is the full attribute map as pulled from the source,
	// including the identifier and approval values under their source
	// field names.
	Fields map[string]any
}

// FieldMapping names the source fields holding the identifier and approval
// values. Zero values fall back to the defaults.
type FieldMapping struct {
	Identifier string
	Approval   string
}

// withDefaults fills unset mapping entries.
func (m FieldMapping) withDefaults() FieldMapping {
	if m.Identifier == "" {
		m.Identifier = DefaultIdentifierField
	}
	if m.Approval == "" {
		m.Approval = DefaultApprovalField
	}
	return m
}

// FromDocument builds a Record from a raw associative document. Missing
// fields produce empty strings; Key derivation and acceptance filtering
// decide later whether that disqualifies the record.
func FromDocument(documentID string, fields map[string]any, mapping FieldMapping) Record {
	mapping = mapping.withDefaults()
	return Record{
		ProductCode: stringify(fields[mapping.Identifier]),
		DocumentID:  documentID,
		Approval:    stringify(fields[mapping.Approval]),
		Fields:      fields,
	}
}

// Key derives the record's cache key from its product code.
func (r Record) Key() (Key, error) {
	return Normalize(r.ProductCode)
}

// stringify renders a raw field value the way the source system's loosely
// typed documents require: nil is absent, everything else takes its default
// string form (numbers without exponents, booleans as true/false).
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		// JSON numbers decode as float64; render integral values without
		// a fractional part so codes like 1020 survive a round trip.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%v", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
