package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opentransit/timetable/model"
)

func TestIntSliceInterning(t *testing.T) {
	d := NewDeduplicator()

	a := []int{0, 60, 130}
	b := []int{0, 60, 130}
	c := []int{0, 60, 131}

	canonA := d.IntSlice(a)
	canonB := d.IntSlice(b)
	canonC := d.IntSlice(c)

	// Equal content yields the same backing array
	assert.Same(t, &canonA[0], &canonB[0])
	assert.NotSame(t, &canonA[0], &canonC[0])

	assert.Nil(t, d.IntSlice(nil))
}

func TestStringSliceInterning(t *testing.T) {
	d := NewDeduplicator()

	a := d.StringSlice([]string{"Downtown", "Uptown"})
	b := d.StringSlice([]string{"Downtown", "Uptown"})
	assert.Same(t, &a[0], &b[0])

	// Concatenation must not collide: ["ab", ""] != ["a", "b"]
	x := d.StringSlice([]string{"ab", ""})
	y := d.StringSlice([]string{"a", "b"})
	assert.NotSame(t, &x[0], &y[0])
}

func TestBitSetInterning(t *testing.T) {
	d := NewDeduplicator()

	a := NewBitSet(70)
	a.Set(0, true)
	a.Set(69, true)

	b := NewBitSet(70)
	b.Set(0, true)
	b.Set(69, true)

	c := NewBitSet(70)
	c.Set(1, true)

	assert.Same(t, d.BitSet(a), d.BitSet(b))
	assert.NotSame(t, d.BitSet(a), d.BitSet(c))

	// Same words, different length
	e := NewBitSet(64)
	f := NewBitSet(128)
	assert.NotSame(t, d.BitSet(e), d.BitSet(f))
}

func TestPickDropInterning(t *testing.T) {
	d := NewDeduplicator()

	a := d.PickDrops([]model.PickDrop{model.PickDropRegular, model.PickDropNone})
	b := d.PickDrops([]model.PickDrop{model.PickDropRegular, model.PickDropNone})
	c := d.PickDrops([]model.PickDrop{model.PickDropRegular, model.PickDropPhone})

	assert.Same(t, &a[0], &b[0])
	assert.NotSame(t, &a[0], &c[0])
}

func TestBookingInfoInterning(t *testing.T) {
	d := NewDeduplicator()

	a := d.BookingInfos([]*model.BookingInfo{nil, {ContactInfo: "call 555"}})
	b := d.BookingInfos([]*model.BookingInfo{nil, {ContactInfo: "call 555"}})
	c := d.BookingInfos([]*model.BookingInfo{{ContactInfo: "call 555"}, nil})

	assert.Same(t, &a[0], &b[0])
	assert.NotSame(t, &a[0], &c[0])
}

func TestDeduplicatorSize(t *testing.T) {
	d := NewDeduplicator()
	assert.Equal(t, 0, d.Size())

	d.IntSlice([]int{1, 2})
	d.IntSlice([]int{1, 2})
	d.IntSlice([]int{3})
	d.StringSlice([]string{"x"})

	assert.Equal(t, 3, d.Size())
}

func TestBitSetBasics(t *testing.T) {
	b := NewBitSet(10)
	assert.Equal(t, 10, b.Len())
	assert.False(t, b.Get(3))

	b.Set(3, true)
	assert.True(t, b.Get(3))

	b.Set(3, false)
	assert.False(t, b.Get(3))

	// Out of range is a no-op
	b.Set(99, true)
	assert.False(t, b.Get(99))
	assert.False(t, b.Get(-1))
}
