package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// -------------------- Validation Tests --------------------

func echoSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func TestValidate_Success(t *testing.T) {
	out, err := Validate(echoSchema(), map[string]any{"text": "hi"})
	assert.NoError(t, err)
	assert.Equal(t, "hi", out["text"])
}

func TestValidate_MissingRequiredField(t *testing.T) {
	_, err := Validate(echoSchema(), map[string]any{})
	assert.Error(t, err)

	vErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "text", vErr.Field)
	assert.Equal(t, "string", vErr.Expected)
	assert.Equal(t, "absent", vErr.Actual)
}

func TestValidate_UnknownFieldRejectedInStrictMode(t *testing.T) {
	_, err := Validate(echoSchema(), map[string]any{"text": "hi", "bogus": 1})
	assert.Error(t, err)

	vErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "bogus", vErr.Field)
	assert.Equal(t, "absent", vErr.Expected)
}

func TestValidate_UnknownFieldAllowedWhenRelaxed(t *testing.T) {
	out, err := Validate(echoSchema(), map[string]any{"text": "hi", "bogus": 1}, WithAllowExtraFields())
	assert.NoError(t, err)
	assert.Equal(t, 1, out["bogus"])
}

func TestValidate_TypeMismatch(t *testing.T) {
	_, err := Validate(echoSchema(), map[string]any{"text": 7})
	assert.Error(t, err)

	vErr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Equal(t, "text", vErr.Field)
	assert.Equal(t, "string", vErr.Expected)
	assert.Equal(t, "integer", vErr.Actual)
}

func TestValidate_IntegerCoercion(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"max_results": map[string]any{"type": "integer"},
		},
	}

	// JSON decoding hands integers to us as float64.
	out, err := Validate(s, map[string]any{"max_results": float64(10)})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), out["max_results"])

	// A fractional value is not an integer.
	_, err = Validate(s, map[string]any{"max_results": 10.5})
	assert.Error(t, err)
	vErr := err.(*ValidationError)
	assert.Equal(t, "integer", vErr.Expected)
	assert.Equal(t, "number", vErr.Actual)
}

func TestValidate_NumberCoercion(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ratio": map[string]any{"type": "number"},
		},
	}

	out, err := Validate(s, map[string]any{"ratio": 2})
	assert.NoError(t, err)
	assert.Equal(t, float64(2), out["ratio"])
}

func TestValidate_InputNotMutated(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"n": map[string]any{"type": "integer"},
		},
	}
	in := map[string]any{"n": float64(3)}

	out, err := Validate(s, in)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), out["n"])
	assert.Equal(t, float64(3), in["n"], "input map must stay untouched")
}

func TestValidate_NestedObjectPath(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filter": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit": map[string]any{"type": "integer"},
				},
				"required": []string{"limit"},
			},
		},
	}

	_, err := Validate(s, map[string]any{"filter": map[string]any{"limit": "ten"}})
	assert.Error(t, err)
	vErr := err.(*ValidationError)
	assert.Equal(t, "filter.limit", vErr.Field)

	_, err = Validate(s, map[string]any{"filter": map[string]any{}})
	assert.Error(t, err)
	vErr = err.(*ValidationError)
	assert.Equal(t, "filter.limit", vErr.Field)
	assert.Equal(t, "absent", vErr.Actual)
}

func TestValidate_ArrayItems(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tweets": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}

	out, err := Validate(s, map[string]any{"tweets": []any{"a", "b"}})
	assert.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out["tweets"])

	_, err = Validate(s, map[string]any{"tweets": []any{"a", 2}})
	assert.Error(t, err)
	vErr := err.(*ValidationError)
	assert.Equal(t, "tweets[1]", vErr.Field)
}

func TestValidate_Enum(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{"type": "string", "enum": []string{"fast", "thorough"}},
		},
	}

	_, err := Validate(s, map[string]any{"mode": "fast"})
	assert.NoError(t, err)

	_, err = Validate(s, map[string]any{"mode": "lazy"})
	assert.Error(t, err)
	vErr := err.(*ValidationError)
	assert.Equal(t, "mode", vErr.Field)
	assert.Contains(t, vErr.Expected, "fast")
}

func TestValidate_NilArgsWithNoRequirements(t *testing.T) {
	out, err := Validate(map[string]any{"type": "object", "properties": map[string]any{}}, nil)
	assert.NoError(t, err)
	assert.Empty(t, out)
}
