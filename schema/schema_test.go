package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// -------------------- FromStruct Tests --------------------

type sampleArgs struct {
	A string `json:"a" description:"Field A"`
	B *int   `json:"b" description:"Optional pointer field"`
	C int    `json:"c,omitempty" description:"Omit empty field"`
}

func TestFromStruct(t *testing.T) {
	s := FromStruct(sampleArgs{})

	props, ok := s["properties"].(map[string]any)
	assert.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")

	a := props["a"].(map[string]any)
	assert.Equal(t, "string", a["type"])
	assert.Equal(t, "Field A", a["description"])

	// Required only includes non-pointer, non-omitempty exported fields.
	req, _ := s["required"].([]string)
	assert.ElementsMatch(t, []string{"a"}, req)
}

func TestFromStruct_NonStructFallsBack(t *testing.T) {
	s := FromStruct(42)
	assert.Equal(t, "object", s["type"])
	assert.Empty(t, s["properties"])
}

func TestFromStructRoundTripsThroughValidate(t *testing.T) {
	s := FromStruct(sampleArgs{})

	out, err := Validate(s, map[string]any{"a": "hello"})
	assert.NoError(t, err)
	assert.Equal(t, "hello", out["a"])

	_, err = Validate(s, map[string]any{})
	assert.Error(t, err)
}
