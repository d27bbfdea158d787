// Package schema implements structural validation of tool arguments against a
// JSON-schema subset (type, properties, required, enum, items). Validation is
// strict by default: fields not declared in the schema are rejected. On
// success the validator returns a coerced copy of the arguments with numeric
// values normalized to their declared types; the input map is never mutated.
//
// The package also provides FromStruct, which derives an argument schema from
// a Go struct via reflection, mirroring how function tools declare their
// parameter shapes.
package schema
