package mapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamedIDKinds(t *testing.T) {
	byID := NamedInt(testPropSet, 0x8501)
	byName := NamedString(testPropSet, "Keywords")

	assert.Equal(t, NameKindID, byID.Kind)
	assert.Equal(t, NameKindString, byName.Kind)
	assert.Equal(t, "{a1b2c3d4-0000-4000-8000-00000000abcd}:0x8501", byID.String())
	assert.Equal(t, "{a1b2c3d4-0000-4000-8000-00000000abcd}:\"Keywords\"", byName.String())

	assert.Equal(t, KindString, StringValue("x").Kind())
	assert.Equal(t, "string", KindString.String())
}
