package dedup

import (
	"encoding/binary"
	"strings"

	"github.com/opentransit/timetable/model"
)

// Deduplicator interns arrays and lists that tend to repeat across
// trips following the same pattern: stop sequence numbers, scheduled
// hop times, pickup/dropoff rules and so on. Interning these cuts the
// heap footprint of a large feed by an order of magnitude.
//
// Not safe for concurrent use. Building a schedule is a
// single-threaded affair; the Applier keeps a separate instance for
// TripTimes built at runtime and touches it only under the snapshot
// publisher's builder lock.
type Deduplicator struct {
	ints      map[string][]int
	strs      map[string][]string
	bits      map[string]*BitSet
	pickDrops map[string][]model.PickDrop
	bookings  map[string][]*model.BookingInfo
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		ints:      map[string][]int{},
		strs:      map[string][]string{},
		bits:      map[string]*BitSet{},
		pickDrops: map[string][]model.PickDrop{},
		bookings:  map[string][]*model.BookingInfo{},
	}
}

// Returns a canonical instance equal to v. The first slice seen with
// a given content becomes the canonical one; callers must treat the
// result as immutable.
func (d *Deduplicator) IntSlice(v []int) []int {
	if v == nil {
		return nil
	}
	k := intKey(v)
	if canon, found := d.ints[k]; found {
		return canon
	}
	d.ints[k] = v
	return v
}

func (d *Deduplicator) StringSlice(v []string) []string {
	if v == nil {
		return nil
	}
	var sb strings.Builder
	for _, s := range v {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		sb.Write(lenBuf[:])
		sb.WriteString(s)
	}
	k := sb.String()
	if canon, found := d.strs[k]; found {
		return canon
	}
	d.strs[k] = v
	return v
}

func (d *Deduplicator) BitSet(v *BitSet) *BitSet {
	if v == nil {
		return nil
	}
	var sb strings.Builder
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v.size))
	sb.Write(buf[:])
	for _, w := range v.words {
		binary.LittleEndian.PutUint64(buf[:], w)
		sb.Write(buf[:])
	}
	k := sb.String()
	if canon, found := d.bits[k]; found {
		return canon
	}
	d.bits[k] = v
	return v
}

func (d *Deduplicator) PickDrops(v []model.PickDrop) []model.PickDrop {
	if v == nil {
		return nil
	}
	ints := make([]int, len(v))
	for i, pd := range v {
		ints[i] = int(pd)
	}
	k := intKey(ints)
	if canon, found := d.pickDrops[k]; found {
		return canon
	}
	d.pickDrops[k] = v
	return v
}

// BookingInfos are compared by value. Nil entries are common (most
// stops have no booking rules) and are folded into the key.
func (d *Deduplicator) BookingInfos(v []*model.BookingInfo) []*model.BookingInfo {
	if v == nil {
		return nil
	}
	var sb strings.Builder
	for _, bi := range v {
		if bi == nil {
			sb.WriteString("\x00-")
			continue
		}
		sb.WriteString("\x00+")
		sb.WriteString(bi.ContactInfo)
		sb.WriteByte(0)
		sb.WriteString(bi.BookingURL)
		sb.WriteByte(0)
		sb.WriteString(bi.Message)
		sb.WriteByte(0)
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(bi.MinNoticeMinutes))
		sb.Write(buf[:])
	}
	k := sb.String()
	if canon, found := d.bookings[k]; found {
		return canon
	}
	d.bookings[k] = v
	return v
}

// Number of canonical entries held, across all tables. Only used to
// eyeball interning effectiveness.
func (d *Deduplicator) Size() int {
	return len(d.ints) + len(d.strs) + len(d.bits) + len(d.pickDrops) + len(d.bookings)
}

func intKey(v []int) string {
	var sb strings.Builder
	sb.Grow(len(v) * 8)
	var buf [8]byte
	for _, i := range v {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		sb.Write(buf[:])
	}
	return sb.String()
}
