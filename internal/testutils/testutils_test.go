package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	rt := &recordingT{}
	ta := NewTextAsserter(rt)

	assert.True(t, ta.Assert("a\nb  \n\n", "a\nb"), "trailing whitespace MUST be ignored by default")
	assert.Empty(t, rt.errors)

	assert.False(t, ta.Assert("a\nc", "a\nb"))
	assert.Len(t, rt.errors, 1)
	assert.Contains(t, rt.errors[0], "-b")
	assert.Contains(t, rt.errors[0], "+c")

	strict := NewTextAsserter(rt, WithTrimSpace(false))
	assert.NotEmpty(t, strict.Diff("\na", "a"))
	assert.Empty(t, NewTextAsserter(rt, WithIgnoreEmptyLines(true)).Diff("a\n\nb", "a\nb"))
	assert.Contains(t, NewTextAsserter(rt, WithColors(true)).Diff("x", "y"), "\x1b[")
}

func TestJSONAsserter(t *testing.T) {
	rt := &recordingT{}
	ja := NewJSONAsserter(rt)

	assert.True(t, ja.Assert(`{"a": 1, "extra": true}`, `{"a": 1}`))
	assert.True(t, ja.Assert(`[{"a": 1, "b": 2}]`, `[{"a": 1}]`), "root arrays MUST be supported")
	assert.False(t, ja.Assert(`{"a": 2}`, `{"a": 1}`))
	assert.Len(t, rt.errors, 1)

	strict := NewJSONAsserter(rt, WithIgnoreExtraKeys(false))
	assert.NotEmpty(t, strict.Diff(`{"a": 1, "extra": true}`, `{"a": 1}`))

	ignoring := NewJSONAsserter(rt, WithIgnoreExtraKeys(false), WithIgnoredFields("value"))
	assert.Empty(t, ignoring.Diff(`{"h": {"value": "00"}}`, `{"h": {"value": "ff"}}`))

	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
}
