package extractor

import (
	"errors"
	"fmt"
	"time"

	"github.com/andybalholm/cascadia"
)

// FieldKind selects how a field's matches are shaped into a value.
type FieldKind string

const (
	// KindSingle yields the first non-empty value.
	KindSingle FieldKind = "single"
	// KindList yields every non-empty value in document order.
	KindList FieldKind = "list"
	// KindRecord yields one nested record built from the first match.
	KindRecord FieldKind = "record"
	// KindRecords yields a nested record per match, in document order.
	KindRecords FieldKind = "records"
)

// SelfSelector addresses the scope element itself inside nested records.
const SelfSelector = "&"

// Pseudo-attributes understood in Field.Attr besides real HTML attributes.
const (
	AttrText        = "text"
	AttrHTML        = "html"
	AttrMarkdown    = "markdown"
	AttrReadability = "readability"
)

// Field describes how to locate and normalize one record field.
type Field struct {
	Name string `yaml:"name"`

	// Selectors is a fallback chain; the first selector producing a
	// non-empty value wins.
	Selectors []string `yaml:"selectors"`

	// Attr is a fallback chain of attributes or pseudo-attributes.
	// Default: ["text"].
	Attr []string `yaml:"attr,omitempty"`

	Kind FieldKind `yaml:"kind,omitempty"`

	// Prose collapses internal whitespace runs.
	Prose bool `yaml:"prose,omitempty"`

	Transforms []string `yaml:"transforms,omitempty"`

	Required bool `yaml:"required,omitempty"`

	// Fields are the sub-fields of record and records kinds, evaluated
	// relative to each matched element.
	Fields []Field `yaml:"fields,omitempty"`
}

func (f *Field) kind() FieldKind {
	if f.Kind == "" {
		return KindSingle
	}
	return f.Kind
}

func (f *Field) attrs() []string {
	if len(f.Attr) == 0 {
		return []string{AttrText}
	}
	return f.Attr
}

// Schema is a declarative description of one page type.
type Schema struct {
	ID      string `yaml:"id"`
	Version int    `yaml:"version,omitempty"`

	// TTL is how long successful results stay cached. Zero means the
	// configured default.
	TTL time.Duration `yaml:"ttl,omitempty"`

	// ReadySelector is awaited by the headless strategy before reading HTML.
	ReadySelector string `yaml:"ready_selector,omitempty"`

	// Marker must be present in a fetched page for it to count as real
	// content rather than a block page.
	Marker string `yaml:"marker,omitempty"`

	// MinBodyLength overrides the visible-text threshold for block detection.
	MinBodyLength int `yaml:"min_body_length,omitempty"`

	Fields []Field `yaml:"fields"`
}

// Validate checks that every selector compiles, every transform is known
// and the field tree is well formed. All problems are reported together.
func (s *Schema) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("schema: missing id"))
	}
	if len(s.Fields) == 0 {
		errs = append(errs, fmt.Errorf("schema %s: no fields", s.ID))
	}
	for _, sel := range []string{s.ReadySelector, s.Marker} {
		if sel == "" {
			continue
		}
		if _, err := cascadia.ParseGroup(sel); err != nil {
			errs = append(errs, fmt.Errorf("schema %s: selector %q: %w", s.ID, sel, err))
		}
	}
	errs = append(errs, validateFields(s.ID, "", s.Fields)...)
	return errors.Join(errs...)
}

func validateFields(schemaID, prefix string, fields []Field) []error {
	var errs []error
	seen := make(map[string]struct{}, len(fields))
	for i := range fields {
		f := &fields[i]
		path := joinPath(prefix, f.Name)
		fail := func(format string, args ...any) {
			errs = append(errs, fmt.Errorf("schema %s: field %s: %s", schemaID, path, fmt.Sprintf(format, args...)))
		}

		if f.Name == "" {
			fail("missing name")
		}
		if _, dup := seen[f.Name]; dup {
			fail("duplicate name")
		}
		seen[f.Name] = struct{}{}

		if len(f.Selectors) == 0 {
			fail("no selectors")
		}
		for _, sel := range f.Selectors {
			if sel == SelfSelector {
				if prefix == "" {
					fail("%q is only valid inside nested records", SelfSelector)
				}
				continue
			}
			if _, err := cascadia.ParseGroup(sel); err != nil {
				fail("selector %q: %v", sel, err)
			}
		}
		for _, a := range f.Attr {
			if a == "" {
				fail("empty attribute name")
			}
		}

		switch f.kind() {
		case KindSingle, KindList:
			if len(f.Fields) > 0 {
				fail("kind %s cannot have sub-fields", f.kind())
			}
		case KindRecord, KindRecords:
			if len(f.Fields) == 0 {
				fail("kind %s needs sub-fields", f.kind())
			}
			errs = append(errs, validateFields(schemaID, path, f.Fields)...)
		default:
			fail("unknown kind %q", f.Kind)
		}

		for _, t := range f.Transforms {
			if err := checkTransform(t); err != nil {
				fail("%v", err)
			}
		}
	}
	return errs
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
