package sensor

import (
	"sort"
	"time"
)

// DefaultBucketWidth is the history bucket size.
const DefaultBucketWidth = time.Minute

// BucketStart returns floor(ts/width)*width for a width in milliseconds.
func BucketStart(ts, widthMs int64) int64 {
	q := ts / widthMs
	if ts%widthMs != 0 && ts < 0 {
		q--
	}
	return q * widthMs
}

// Aggregate groups points into fixed-width buckets and keeps the latest point of each.
// A point with a timestamp equal to the current representative replaces it, so the one seen
// later in iteration order wins ties. Buckets are returned most recent first.
func Aggregate(points []Point, width time.Duration) []Bucket {
	widthMs := bucketWidthMs(width)
	latest := make(map[int64]Point)
	for _, p := range points {
		key := BucketStart(p.Timestamp, widthMs)
		if cur, ok := latest[key]; !ok || p.Timestamp >= cur.Timestamp {
			latest[key] = p
		}
	}

	buckets := make([]Bucket, 0, len(latest))
	for start, p := range latest {
		buckets = append(buckets, Bucket{Start: start, End: start + widthMs - 1, Point: p})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Start > buckets[j].Start
	})
	return buckets
}

// CountBuckets returns len(Aggregate(points, width)) without building the buckets.
func CountBuckets(points []Point, width time.Duration) int {
	widthMs := bucketWidthMs(width)
	seen := make(map[int64]struct{})
	for _, p := range points {
		seen[BucketStart(p.Timestamp, widthMs)] = struct{}{}
	}
	return len(seen)
}

func bucketWidthMs(width time.Duration) int64 {
	if ms := width.Milliseconds(); ms > 0 {
		return ms
	}
	return DefaultBucketWidth.Milliseconds()
}
