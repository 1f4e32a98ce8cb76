package sensor

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Store is the time-ordered set of points built from one snapshot.
// A Store is never mutated after NewStore returns; each snapshot builds a new one.
type Store struct {
	points      []Point
	dropped     int
	fallbacks   int
	fingerprint uint64
}

// NewStore normalizes every entry in snapshot order, drops rejected records, and sorts the rest
// ascending by timestamp. Equal timestamps keep snapshot order.
func NewStore(snap Snapshot, n Normalizer) *Store {
	s := &Store{points: make([]Point, 0, len(snap))}
	for _, e := range snap {
		p, out := n.normalize(e.ID, e.Raw)
		switch out {
		case outcomeDropped:
			s.dropped++
			continue
		case outcomeTimeFallback:
			s.fallbacks++
		}
		s.points = append(s.points, p)
	}
	sort.SliceStable(s.points, func(i, j int) bool {
		return s.points[i].Timestamp < s.points[j].Timestamp
	})
	s.fingerprint = fingerprint(s.points)
	return s
}

// Points returns the ordered points. Callers must not modify the returned slice.
func (s *Store) Points() []Point {
	if s == nil {
		return nil
	}
	return s.points
}

// Len returns the number of points.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.points)
}

// Latest returns the most recent point.
func (s *Store) Latest() (Point, bool) {
	if s.Len() == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// Dropped returns how many records of the snapshot had no usable temperature.
func (s *Store) Dropped() int {
	if s == nil {
		return 0
	}
	return s.dropped
}

// TimeFallbacks returns how many points were stamped with the normalization time.
func (s *Store) TimeFallbacks() int {
	if s == nil {
		return 0
	}
	return s.fallbacks
}

// Fingerprint identifies the store contents. Two stores with the same points in the same order
// have the same fingerprint, independent of process.
func (s *Store) Fingerprint() uint64 {
	if s == nil {
		return fingerprint(nil)
	}
	return s.fingerprint
}

func fingerprint(points []Point) uint64 {
	d := xxhash.New()
	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = d.Write(buf[:])
	}
	writeOpt := func(f *float64) {
		if f == nil {
			_, _ = d.Write([]byte{0})
			return
		}
		_, _ = d.Write([]byte{1})
		writeU64(math.Float64bits(*f))
	}
	for _, p := range points {
		_, _ = d.WriteString(p.ID)
		_, _ = d.Write([]byte{0})
		writeU64(uint64(p.Timestamp))
		writeU64(math.Float64bits(p.Temperature))
		writeOpt(p.Humidity)
		writeOpt(p.Sequence)
		if p.RawTime != nil {
			_, _ = d.WriteString(*p.RawTime)
		}
		_, _ = d.Write([]byte{0xff})
	}
	return d.Sum64()
}
