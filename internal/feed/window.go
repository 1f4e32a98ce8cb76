package feed

import "github.com/kjstillabower/sensor-dashboard/internal/sensor"

// window keeps the most recent limit distinct keys in arrival order.
// Re-delivery of a known key updates the record in place without changing its position.
type window struct {
	limit   int
	keys    []string
	records map[string]sensor.RawRecord
}

func newWindow(limit int) *window {
	return &window{
		limit:   normalizeLimit(limit),
		records: make(map[string]sensor.RawRecord),
	}
}

func (w *window) put(key string, rec sensor.RawRecord) {
	if _, ok := w.records[key]; !ok {
		w.keys = append(w.keys, key)
		if len(w.keys) > w.limit {
			delete(w.records, w.keys[0])
			w.keys = append(w.keys[:0], w.keys[1:]...)
		}
	}
	w.records[key] = rec
}

func (w *window) remove(key string) {
	if _, ok := w.records[key]; !ok {
		return
	}
	delete(w.records, key)
	for i, k := range w.keys {
		if k == key {
			w.keys = append(w.keys[:i], w.keys[i+1:]...)
			break
		}
	}
}

func (w *window) snapshot() sensor.Snapshot {
	snap := make(sensor.Snapshot, 0, len(w.keys))
	for _, k := range w.keys {
		snap = append(snap, sensor.Entry{ID: k, Raw: copyRecord(w.records[k])})
	}
	return snap
}
