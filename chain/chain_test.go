package chain

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/shaban/fxhost/plugins"
)

func keys(c *Chain) []plugins.Key { return c.Keys() }

func TestAppendAssignsMaxPlusOne(t *testing.T) {
	c := New()
	a := c.Append("VST3:/a", nil)
	b := c.Append("VST3:/b", []byte("state"))
	require.Equal(t, int64(1), a.Order)
	require.Equal(t, int64(2), b.Order)
	require.NotEqual(t, a.ID, b.ID)

	c = New(Entry{Key: "x", Order: 10}, Entry{Key: "y", Order: 3})
	require.Equal(t, int64(11), c.Append("z", nil).Order)
	require.Equal(t, []plugins.Key{"y", "x", "z"}, keys(c))
}

func TestRemove(t *testing.T) {
	c := New()
	c.Append("a", nil)
	c.Append("b", nil)
	c.Append("c", nil)

	e, err := c.Remove(1)
	require.NoError(t, err)
	require.Equal(t, plugins.Key("b"), e.Key)
	require.Equal(t, []plugins.Key{"a", "c"}, keys(c))

	_, err = c.Remove(5)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = c.Remove(-1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestMoveSwapsOrderKeys(t *testing.T) {
	c := New()
	c.Append("a", nil)
	c.Append("b", nil)
	c.Append("c", nil)

	require.True(t, c.MoveUp(2))
	require.Equal(t, []plugins.Key{"a", "c", "b"}, keys(c))
	require.True(t, c.MoveDown(0))
	require.Equal(t, []plugins.Key{"c", "a", "b"}, keys(c))

	orders := []int64{}
	for _, e := range c.Entries() {
		orders = append(orders, e.Order)
	}
	require.Equal(t, []int64{1, 2, 3}, orders)
}

func TestMoveBoundaryIsNoop(t *testing.T) {
	c := New()
	c.Append("a", nil)
	c.Append("b", nil)
	before := c.Entries()

	require.False(t, c.MoveUp(0))
	require.False(t, c.MoveDown(1))
	require.False(t, c.MoveUp(7))
	require.False(t, c.MoveDown(-1))
	require.Empty(t, cmp.Diff(before, c.Entries()))
}

func TestMoveOnCollidingKeys(t *testing.T) {
	c := New(Entry{ID: "1", Key: "a", Order: 5}, Entry{ID: "2", Key: "b", Order: 5})
	require.True(t, c.MoveUp(1))
	require.Equal(t, []plugins.Key{"b", "a"}, keys(c))
	e0, _ := c.At(0)
	e1, _ := c.At(1)
	require.Less(t, e0.Order, e1.Order)
}

func TestSetBypassAndState(t *testing.T) {
	c := New()
	c.Append("a", nil)

	changed, err := c.SetBypass(0, true)
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = c.SetBypass(0, true)
	require.NoError(t, err)
	require.False(t, changed)
	_, err = c.SetBypass(1, true)
	require.ErrorIs(t, err, ErrIndexOutOfRange)

	blob := []byte{1, 2, 3}
	require.NoError(t, c.SetState(0, blob))
	blob[0] = 9
	e, _ := c.At(0)
	require.Equal(t, []byte{1, 2, 3}, e.State, "chain keeps its own copy")

	require.NoError(t, c.SetState(0, nil))
	e, _ = c.At(0)
	require.Nil(t, e.State)
}

func TestNormalizeHealsCollisions(t *testing.T) {
	c := New(
		Entry{ID: "a", Key: "a", Order: 1},
		Entry{ID: "b", Key: "b", Order: 2},
		Entry{ID: "c", Key: "c", Order: 2},
		Entry{ID: "d", Key: "d", Order: 3},
	)
	require.True(t, c.Normalize())
	require.Equal(t, []plugins.Key{"a", "b", "c", "d"}, keys(c), "first seen wins")

	var orders []int64
	for _, e := range c.Entries() {
		orders = append(orders, e.Order)
	}
	require.Equal(t, []int64{1, 2, 3, 4}, orders)
	require.False(t, c.Normalize(), "already unique")
}

func TestClearIndexClone(t *testing.T) {
	c := New()
	e := c.Append("a", []byte("s"))
	require.Equal(t, 0, c.Index(e.ID))
	require.Equal(t, -1, c.Index("missing"))

	cp := c.Clone()
	c.Clear()
	require.Zero(t, c.Len())
	require.Equal(t, 1, cp.Len())
	require.Equal(t, "chain: empty", c.Summary())
	require.Equal(t, "chain: 1 plugins [a]", cp.Summary())
}

// applyOp performs one random mutation for the property tests.
func applyOp(t *rapid.T, c *Chain, n int) {
	switch rapid.IntRange(0, 4).Draw(t, "op") {
	case 0:
		c.Append(plugins.Key(fmt.Sprintf("p%d", n)), nil)
	case 1:
		if c.Len() > 0 {
			_, _ = c.Remove(rapid.IntRange(0, c.Len()-1).Draw(t, "remove"))
		}
	case 2:
		c.MoveUp(rapid.IntRange(-1, c.Len()).Draw(t, "up"))
	case 3:
		c.MoveDown(rapid.IntRange(-1, c.Len()).Draw(t, "down"))
	case 4:
		if c.Len() > 0 {
			_, _ = c.SetBypass(rapid.IntRange(0, c.Len()-1).Draw(t, "bypass"), rapid.Bool().Draw(t, "on"))
		}
	}
}

func TestChainStaysSortedAndUniqueProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := New()
		steps := rapid.IntRange(0, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			applyOp(t, c, i)
			es := c.Entries()
			for j := 1; j < len(es); j++ {
				if es[j].Order <= es[j-1].Order {
					t.Fatalf("order keys not strictly increasing at %d: %v", j, es)
				}
			}
		}
	})
}

func TestNormalizePreservesRelativeOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		orders := rapid.SliceOfN(rapid.Int64Range(0, 5), 0, 12).Draw(t, "orders")
		entries := make([]Entry, len(orders))
		for i, o := range orders {
			entries[i] = Entry{ID: fmt.Sprint(i), Key: plugins.Key(fmt.Sprint(i)), Order: o}
		}
		c := New(entries...)
		before := c.Keys()
		c.Normalize()

		if diff := cmp.Diff(before, c.Keys()); diff != "" {
			t.Fatalf("normalize reordered entries (-before +after):\n%s", diff)
		}
		es := c.Entries()
		for j := 1; j < len(es); j++ {
			if es[j].Order <= es[j-1].Order {
				t.Fatalf("collision survived normalize: %v", es)
			}
		}
	})
}

func TestMoveBoundaryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := New()
		n := rapid.IntRange(1, 8).Draw(t, "n")
		for i := 0; i < n; i++ {
			c.Append(plugins.Key(fmt.Sprint(i)), nil)
		}
		before := c.Entries()
		c.MoveUp(0)
		c.MoveDown(c.Len() - 1)
		if diff := cmp.Diff(before, c.Entries()); diff != "" {
			t.Fatalf("boundary move changed chain:\n%s", diff)
		}
	})
}
