package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "P1", JoinPath("", "P1"))
	assert.Equal(t, "P1.C1", JoinPath("P1", "C1"))
	assert.Equal(t, "P1.C1.D3", JoinPath("P1.C1", "D3"))
}

func TestPathSegments(t *testing.T) {
	t.Parallel()

	o := Organization{OrgID: "D3", Path: "P1.C1.D3", Level: 2}
	assert.Equal(t, []string{"P1", "C1", "D3"}, o.PathSegments())
	assert.Len(t, o.PathSegments(), o.Level+1)

	empty := Organization{}
	assert.Nil(t, empty.PathSegments())
}

func TestParentPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "P1.C1", Organization{Path: "P1.C1.D3"}.ParentPath())
	assert.Equal(t, "", Organization{Path: "P1"}.ParentPath())
}

func TestPathDepth(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, PathDepth(""))
	assert.Equal(t, 1, PathDepth("P1"))
	assert.Equal(t, 3, PathDepth("P1.C1.D3"))
}
