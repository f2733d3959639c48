// Package schema declares tool argument schemas and validates call
// arguments against them.
//
// Schemas are jsonschema-go values so the same declaration is sent to the
// model and compiled for validation. Validation runs on a compiled JSON
// Schema (draft 2020-12) with every declared object closed to undeclared
// fields.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Schema is a JSON Schema declaration.
type Schema = jsonschema.Schema

// JSON Schema type names.
const (
	Object  = "object"
	String  = "string"
	Integer = "integer"
	Number  = "number"
	Boolean = "boolean"
	Array   = "array"
)

// Float returns a pointer to f, for Minimum and Maximum.
func Float(f float64) *float64 { return &f }

// FieldNames returns the top-level property names of s in sorted order.
func FieldNames(s *Schema) []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Violation is a single validation failure at a field path such as
// "items[0].name". The root object has an empty path.
type Violation struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Message
	}
	return v.Path + ": " + v.Message
}

// ValidationError lists every violation found in one document.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "schema: " + strings.Join(parts, "; ")
}

// Validator checks documents against one compiled schema.
type Validator struct {
	name     string
	compiled *jsv.Schema
}

var printer = message.NewPrinter(language.English)

// Compile prepares s for validation. Objects that declare properties reject
// fields they do not declare.
func Compile(name string, s *Schema) (*Validator, error) {
	if s == nil {
		s = &Schema{Type: Object}
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal %s: %w", name, err)
	}
	doc, err := jsv.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema: decode %s: %w", name, err)
	}
	closeObjects(doc)

	url := name + ".json"
	c := jsv.NewCompiler()
	c.DefaultDraft(jsv.Draft2020)
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema: add %s: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile %s: %w", name, err)
	}
	return &Validator{name: name, compiled: compiled}, nil
}

// closeObjects sets additionalProperties to false on every object schema
// that declares properties and does not say otherwise.
func closeObjects(node any) {
	switch n := node.(type) {
	case map[string]any:
		if _, ok := n["properties"]; ok {
			if _, set := n["additionalProperties"]; !set {
				n["additionalProperties"] = false
			}
		}
		for _, child := range n {
			closeObjects(child)
		}
	case []any:
		for _, child := range n {
			closeObjects(child)
		}
	}
}

// Validate checks raw against the compiled schema. Malformed JSON returns a
// plain error; schema failures return a *ValidationError.
func (v *Validator) Validate(raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("schema: decode arguments: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("schema: decode arguments: trailing data after value")
	}

	err := v.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsv.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("schema: validate %s: %w", v.name, err)
	}
	out := &ValidationError{}
	collect(verr, &out.Violations)
	sort.SliceStable(out.Violations, func(i, j int) bool {
		return out.Violations[i].Path < out.Violations[j].Path
	})
	return out
}

// collect flattens the leaves of the cause tree. A missing-properties
// failure becomes one violation per property at the property's own path.
func collect(e *jsv.ValidationError, out *[]Violation) {
	if len(e.Causes) > 0 {
		for _, c := range e.Causes {
			collect(c, out)
		}
		return
	}
	keyword := strings.Join(e.ErrorKind.KeywordPath(), "/")
	if req, ok := e.ErrorKind.(*kind.Required); ok {
		for _, prop := range req.Missing {
			*out = append(*out, Violation{
				Path:    fieldPath(append(append([]string{}, e.InstanceLocation...), prop)),
				Keyword: keyword,
				Message: "is required",
			})
		}
		return
	}
	*out = append(*out, Violation{
		Path:    fieldPath(e.InstanceLocation),
		Keyword: keyword,
		Message: e.ErrorKind.LocalizedString(printer),
	})
}

// fieldPath renders an instance location as "items[0].name".
func fieldPath(loc []string) string {
	var b strings.Builder
	for _, seg := range loc {
		if _, err := strconv.Atoi(seg); err == nil && b.Len() > 0 {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}
