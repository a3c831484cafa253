// Package schema defines the declarative column and table configuration
// for IGDB-backed data tables.
//
// A table schema is a list of typed columns loaded from the sources
// configuration file. Column definitions come in two JSON forms, matching
// the configuration format:
//
//   - a bare string: "name" (a string column; "id" is the integer key)
//   - an object: {"name": "generation", "type": "int"}
//
// Schemas are validated once when a table is constructed and are immutable
// afterwards. All per-row type coercion is driven by the column Type.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the value type of a column.
type Type int

const (
	String Type = iota
	Int
	Float
	Bool
	Date
	DateTime
	List
	Dict
	Count
	Image
)

// typeNames maps configuration type names to Type values.
var typeNames = map[string]Type{
	"string":   String,
	"str":      String,
	"int":      Int,
	"float":    Float,
	"bool":     Bool,
	"date":     Date,
	"datetime": DateTime,
	"list":     List,
	"dict":     Dict,
	"count":    Count,
	"img":      Image,
}

// String returns the configuration name of the type.
func (t Type) String() string {
	for name, v := range typeNames {
		if v == t && name != "str" {
			return name
		}
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType converts a configuration type name to a Type.
func ParseType(name string) (Type, error) {
	t, ok := typeNames[strings.ToLower(name)]
	if !ok {
		return String, fmt.Errorf("unknown column type %q", name)
	}
	return t, nil
}

// Column describes a single table column: its name, the remote field it is
// read from, its value type, and optional reference/computed behavior.
type Column struct {
	// Name is the column title in the local cache file.
	Name string

	// Field is the remote source key. Empty means same as Name.
	Field string

	// Type drives save/load coercion and row processing.
	Type Type

	// Ref names another table whose row this column's value points at.
	// A column whose Ref equals its own table name is a self reference,
	// resolved in a dedicated pass after a full import.
	Ref string

	// Prop is the property read from the referenced row (default "name",
	// or "url" for image columns). Props, when set, selects several
	// properties and yields a sub-map instead of a scalar.
	Prop  string
	Props []string

	// Calc is the remote source key of a list whose length becomes the
	// value of a count column.
	Calc string

	// Prettify replaces underscores with spaces and capitalizes the value.
	Prettify bool

	// Image download settings.
	Download   bool
	FilePrefix string
	FileToken  string
}

// columnJSON is the object form of a column definition.
type columnJSON struct {
	Name       string   `json:"name"`
	Field      string   `json:"field"`
	Type       string   `json:"type"`
	Ref        string   `json:"ref"`
	Prop       string   `json:"prop"`
	Param      string   `json:"param"`
	Props      []string `json:"props"`
	Calc       string   `json:"calc"`
	Proc       bool     `json:"proc"`
	Download   *bool    `json:"download"`
	FilePrefix string   `json:"fileprefix"`
	FileToken  string   `json:"filetoken"`
}

// UnmarshalJSON accepts both the bare-string and the object column forms.
func (c *Column) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		c.Name = name
		c.Type = String
		if name == "id" {
			c.Type = Int
		}
		return nil
	}

	var obj columnJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid column definition: %w", err)
	}

	c.Name = obj.Name
	c.Field = obj.Field
	c.Ref = obj.Ref
	c.Props = obj.Props
	c.Calc = obj.Calc
	c.Prettify = obj.Proc
	c.FilePrefix = obj.FilePrefix
	c.FileToken = obj.FileToken

	c.Type = String
	if obj.Name == "id" {
		c.Type = Int
	}
	if obj.Type != "" {
		t, err := ParseType(obj.Type)
		if err != nil {
			return err
		}
		c.Type = t
	}

	// "param" is the legacy spelling of "prop" in older configurations.
	c.Prop = obj.Prop
	if c.Prop == "" {
		c.Prop = obj.Param
	}

	// Image columns download by default.
	c.Download = c.Type == Image
	if obj.Download != nil {
		c.Download = *obj.Download
	}
	return nil
}

// SourceKey returns the remote field this column is read from.
func (c Column) SourceKey() string {
	if c.Field != "" {
		return c.Field
	}
	return c.Name
}

// RefProp returns the property to read from a referenced row,
// applying the defaults used by the row processor.
func (c Column) RefProp() string {
	if c.Prop != "" {
		return c.Prop
	}
	if c.Type == Image {
		return "url"
	}
	return "name"
}

// Computed reports whether the column is derived locally rather than
// fetched as its own remote field.
func (c Column) Computed() bool {
	return c.Type == Count && c.Calc != ""
}

// Validate checks a single column definition.
func (c Column) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("column has no name")
	}
	if c.Type == Image && c.Ref == "" {
		return fmt.Errorf("image column %q has no reference table", c.Name)
	}
	if len(c.Props) > 0 && c.Ref == "" {
		return fmt.Errorf("column %q selects properties but has no reference table", c.Name)
	}
	return nil
}

// Validate checks a full table schema. A schema must contain the integer
// "id" primary-key column and no duplicate column names.
func Validate(cols []Column) error {
	seen := make(map[string]bool, len(cols))
	hasID := false
	for _, c := range cols {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = true
		if c.Name == "id" {
			if c.Type != Int {
				return fmt.Errorf("column \"id\" must be an int column")
			}
			hasID = true
		}
	}
	if !hasID {
		return fmt.Errorf("schema has no \"id\" column")
	}
	return nil
}

// Names returns the column titles in schema order.
func Names(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
