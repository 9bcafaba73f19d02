package util_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/pkg/util"
)

func TestPathTreeInsertGet(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"a", "b"}, 1)
	tree.Insert([]string{"a", "c"}, 2)

	v, ok := tree.Get([]string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = tree.Get([]string{"a"})
	assert.False(t, ok)
}

func TestPathTreeRemove(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"a", "b"}, 1)
	tree.Remove([]string{"a", "b"})

	_, ok := tree.Get([]string{"a", "b"})
	assert.False(t, ok)
}

func TestPathTreeDetach(t *testing.T) {
	tree := util.NewPathTree[int]()
	tree.Insert([]string{"x", "1"}, 1)
	tree.Insert([]string{"x", "2"}, 2)
	tree.Insert([]string{"y", "3"}, 3)

	vals := tree.Detach([]string{"x"})
	assert.ElementsMatch(t, []int{1, 2}, vals)

	_, ok := tree.Get([]string{"x", "1"})
	assert.False(t, ok)
	v, ok := tree.Get([]string{"y", "3"})
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	assert.Empty(t, tree.Detach([]string{"missing", "path"}))
}
