// Package blocks defines the closed set of content block variants that compose
// a document body, validates untyped props against each variant's shape, and
// builds new blocks from variant defaults.
//
// Every function in this package is pure. The same validation runs when an
// author edits a block and when stored content is loaded back.
package blocks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"coauthor/api/internal/util"
	"coauthor/api/internal/validation"
)

// Type names a block variant.
type Type string

const (
	TypeTextRich      Type = "textRich"
	TypeQuote         Type = "quote"
	TypeImage         Type = "image"
	TypeVideo         Type = "video"
	TypeCallout       Type = "callout"
	TypeDownload      Type = "download"
	TypeQuizMCQ       Type = "quizMCQ"
	TypeQuizTF        Type = "quizTF"
	TypeCTA           Type = "cta"
	TypeROICalculator Type = "roiCalculator"
)

var (
	// ErrUnknownType is returned for a type outside the variant set.
	ErrUnknownType = errors.New("unknown block type")
	// ErrInvalidDefaults marks a variant whose defaults fail their own schema.
	ErrInvalidDefaults = errors.New("block defaults are invalid")
)

// Types lists every variant in declaration order.
func Types() []Type {
	return []Type{
		TypeTextRich, TypeQuote, TypeImage, TypeVideo, TypeCallout,
		TypeDownload, TypeQuizMCQ, TypeQuizTF, TypeCTA, TypeROICalculator,
	}
}

// Valid reports whether t is one of the known variants.
func (t Type) Valid() bool {
	_, ok := newProps(t)
	return ok
}

// Block is one typed unit of document content.
type Block struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Props     Props     `json:"props"`
}

// UnmarshalJSON decodes props into the struct that matches the block type so a
// deserialised block always carries the right variant.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		Type      Type            `json:"type"`
		CreatedAt time.Time       `json:"createdAt"`
		UpdatedAt time.Time       `json:"updatedAt"`
		Props     json.RawMessage `json:"props"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	props, err := decodeProps(raw.Type, raw.Props)
	if err != nil {
		return fmt.Errorf("block %s: %w", raw.ID, err)
	}
	*b = Block{
		ID:        raw.ID,
		Type:      raw.Type,
		CreatedAt: raw.CreatedAt,
		UpdatedAt: raw.UpdatedAt,
		Props:     props,
	}
	return nil
}

// WithProps returns a copy of b carrying props, stamped as updated at now.
func (b Block) WithProps(props Props, now time.Time) Block {
	b.Type = props.Type()
	b.Props = props
	b.UpdatedAt = now
	return b
}

// ValidationError is one violated constraint.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationErrors collects every violation found in one validation pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		if v.Field == "" {
			parts = append(parts, v.Reason)
			continue
		}
		parts = append(parts, v.Field+": "+v.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks rawProps against the shape required by t and returns the
// typed props. All violations are reported, not just the first: a field with
// the wrong JSON type is reported and the remaining fields are still checked.
func Validate(t Type, rawProps json.RawMessage) (Props, ValidationErrors) {
	if !t.Valid() {
		return nil, ValidationErrors{{Field: "type", Reason: fmt.Sprintf("%v: %q", ErrUnknownType, t)}}
	}
	props, errs := decodeFields(t, rawProps)
	if props == nil {
		return nil, errs
	}
	errs = append(errs, withoutFields(validateProps(props), errs)...)
	if len(errs) > 0 {
		return nil, errs
	}
	return props, nil
}

// ValidateBlock revalidates a complete block, e.g. one loaded from storage.
func ValidateBlock(b Block) ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(b.ID) == "" {
		errs = append(errs, ValidationError{Field: "id", Reason: "id is required"})
	}
	if !b.Type.Valid() {
		return append(errs, ValidationError{Field: "type", Reason: fmt.Sprintf("unknown block type %q", b.Type)})
	}
	if b.Props == nil {
		return append(errs, ValidationError{Field: "props", Reason: "props are required"})
	}
	if b.Props.Type() != b.Type {
		return append(errs, ValidationError{
			Field:  "props",
			Reason: fmt.Sprintf("props of type %q do not match block type %q", b.Props.Type(), b.Type),
		})
	}
	return append(errs, validateProps(b.Props)...)
}

// Create builds a block of type t from the variant defaults with overrides
// merged on top. Each top-level override key replaces the default value whole,
// so an overridden list never inherits elements from the defaults. Overrides
// that make the block invalid are reported as ValidationErrors; defaults that
// fail their own schema are reported as ErrInvalidDefaults.
func Create(t Type, overrides json.RawMessage) (Block, error) {
	props, ok := defaultProps(t)
	if !ok {
		return Block{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if errs := validateProps(props); len(errs) > 0 {
		return Block{}, fmt.Errorf("%w: %s: %v", ErrInvalidDefaults, t, errs)
	}
	if len(bytes.TrimSpace(overrides)) > 0 {
		raw, err := overlay(props, overrides)
		if err != nil {
			return Block{}, err
		}
		merged, errs := Validate(t, raw)
		if len(errs) > 0 {
			return Block{}, errs
		}
		props = merged
	}
	now := Now().UTC()
	return Block{
		ID:        util.NewID("blk"),
		Type:      t,
		CreatedAt: now,
		UpdatedAt: now,
		Props:     props,
	}, nil
}

// MustCreate is Create for callers holding known-good overrides. It panics if
// the result is invalid.
func MustCreate(t Type, overrides json.RawMessage) Block {
	b, err := Create(t, overrides)
	if err != nil {
		panic(fmt.Sprintf("blocks: create %s: %v", t, err))
	}
	return b
}

// Now is the clock used to stamp new blocks.
var Now = time.Now

func validateProps(props Props) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validation.Struct(props) {
		errs = append(errs, ValidationError{Field: v.Field, Reason: v.Description})
	}
	return append(errs, props.check()...)
}

func decodeProps(t Type, raw json.RawMessage) (Props, error) {
	target, ok := newProps(t)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, errors.New("props are required")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, err
	}
	return deref(target), nil
}

// decodeFields decodes raw one top-level field at a time so a field of the
// wrong JSON type is reported without hiding the others. Such fields are left
// zero. A nil Props means raw could not be decoded at all.
func decodeFields(t Type, raw json.RawMessage) (Props, ValidationErrors) {
	target, _ := newProps(t)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ValidationErrors{{Field: "props", Reason: "props are required"}}
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, ValidationErrors{{Field: "props", Reason: "props must be a JSON object"}}
	}

	var errs ValidationErrors
	for _, name := range slices.Sorted(maps.Keys(values)) {
		one, err := json.Marshal(map[string]json.RawMessage{name: values[name]})
		if err != nil {
			errs = append(errs, ValidationError{Field: name, Reason: err.Error()})
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(one))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			errs = append(errs, fieldError(name, err))
		}
	}
	return deref(target), errs
}

func fieldError(name string, err error) ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if field == "" {
			field = name
		}
		return ValidationError{Field: field, Reason: fmt.Sprintf("%s must be of type %s", field, typeErr.Type)}
	}
	if strings.HasPrefix(err.Error(), "json: unknown field") {
		return ValidationError{Field: name, Reason: fmt.Sprintf("unknown field %q", name)}
	}
	return ValidationError{Field: name, Reason: err.Error()}
}

// withoutFields drops the errors reported under the same top-level field as
// any error in decoded. Those fields were left zero and would only repeat
// the decode failure.
func withoutFields(errs, decoded ValidationErrors) ValidationErrors {
	if len(decoded) == 0 {
		return errs
	}
	out := errs[:0:0]
	for _, e := range errs {
		if !slices.ContainsFunc(decoded, func(d ValidationError) bool { return rootField(d.Field) == rootField(e.Field) }) {
			out = append(out, e)
		}
	}
	return out
}

func rootField(field string) string {
	if i := strings.IndexAny(field, ".["); i >= 0 {
		return field[:i]
	}
	return field
}

// overlay returns the JSON object of base with every top-level key of
// overrides replacing the base value.
func overlay(base Props, overrides json.RawMessage) (json.RawMessage, error) {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(overrides, &patch); err != nil {
		return nil, ValidationErrors{{Field: "props", Reason: "props must be a JSON object"}}
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	maps.Copy(merged, patch)
	return json.Marshal(merged)
}

func fieldIndex(field string, i int) string {
	return field + "[" + strconv.Itoa(i) + "]"
}
