package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

// maxEventSize bounds a single stream event. The initial put carries the whole window.
const maxEventSize = 16 << 20

// FirebaseConfig configures a Firebase Realtime Database streaming source.
type FirebaseConfig struct {
	URL            string // database root, e.g. https://project-default-rtdb.firebaseio.com
	Path           string // collection path under the root, e.g. sensor_data
	AuthToken      string
	Limit          int
	ConnectTimeout time.Duration
}

// FirebaseSource streams a collection over the Realtime Database REST streaming protocol.
type FirebaseSource struct {
	cfg    FirebaseConfig
	client *http.Client
	logger *zap.Logger
}

func NewFirebaseSource(cfg FirebaseConfig, logger *zap.Logger) (*FirebaseSource, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("firebase url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid firebase url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid firebase url: unsupported scheme %q", u.Scheme)
	}
	cfg.Limit = normalizeLimit(cfg.Limit)
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// No client timeout: the response body stays open for the life of the subscription.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.ConnectTimeout

	return &FirebaseSource{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logger,
	}, nil
}

func (s *FirebaseSource) streamURL() string {
	u, _ := url.Parse(s.cfg.URL)
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Trim(s.cfg.Path, "/") + ".json"

	params := url.Values{}
	params.Set("orderBy", `"$key"`)
	params.Set("limitToLast", strconv.Itoa(s.cfg.Limit))
	if s.cfg.AuthToken != "" {
		params.Set("auth", s.cfg.AuthToken)
	}
	u.RawQuery = params.Encode()
	return u.String()
}

// Subscribe opens the stream. Errors opening the stream are returned directly; errors after
// that are reported once through sink.Fail.
func (s *FirebaseSource) Subscribe(ctx context.Context, sink Sink) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(subCtx, http.MethodGet, s.streamURL(), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		// url.Error carries the request URL, which includes the auth token.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := statusError(resp.StatusCode); err != nil {
		resp.Body.Close()
		cancel()
		return nil, err
	}

	s.logger.Info("feed stream opened",
		zap.String("source", "firebase"),
		zap.String("path", s.cfg.Path),
		zap.Int("limit", s.cfg.Limit),
	)

	sub := &streamSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer resp.Body.Close()

		err := s.consume(resp.Body, sink)
		if subCtx.Err() != nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("%w: stream closed by server", ErrConnectionLost)
		}
		s.logger.Warn("feed stream ended, not reconnecting", zap.Error(err))
		sink.Fail(err)
	}()
	return sub, nil
}

func statusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d", ErrNotFound, code)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, code)
	}
}

// consume applies stream events until the stream ends. It returns nil on a clean EOF.
func (s *FirebaseSource) consume(r io.Reader, sink Sink) error {
	tree := newKeyedTree(s.cfg.Limit)
	events := newEventReader(r)
	for {
		ev, err := events.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, bufio.ErrTooLong) {
				return fmt.Errorf("%w: %v", ErrStream, err)
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		switch ev.name {
		case "put", "patch":
			if err := tree.apply(ev.name, ev.data); err != nil {
				return err
			}
			sink.Snapshot(tree.snapshot())
		case "keep-alive":
		case "cancel":
			return fmt.Errorf("%w: %s", ErrCancelled, eventReason(ev.data))
		case "auth_revoked":
			return fmt.Errorf("%w: %s", ErrAuthRevoked, eventReason(ev.data))
		default:
			s.logger.Debug("ignoring stream event", zap.String("event", ev.name))
		}
	}
}

func eventReason(data string) string {
	var reason string
	if err := json.Unmarshal([]byte(data), &reason); err == nil && reason != "" {
		return reason
	}
	if data == "" || data == "null" {
		return "no reason given"
	}
	return data
}

type streamSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *streamSubscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

type event struct {
	name string
	data string
}

// eventReader splits a text/event-stream body into events.
type eventReader struct {
	sc *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxEventSize)
	return &eventReader{sc: sc}
}

func (er *eventReader) next() (event, error) {
	var (
		ev   event
		data []string
		seen bool
	)
	for er.sc.Scan() {
		line := er.sc.Text()
		if line == "" {
			if seen {
				ev.data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.name = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		}
	}
	if err := er.sc.Err(); err != nil {
		return event{}, err
	}
	return event{}, io.EOF
}

// keyedTree mirrors the subscribed collection: a map of record key to record value.
type keyedTree struct {
	limit int
	root  map[string]any
}

func newKeyedTree(limit int) *keyedTree {
	return &keyedTree{limit: limit, root: map[string]any{}}
}

type streamMessage struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

func (t *keyedTree) apply(kind, payload string) error {
	var msg streamMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStream, kind, err)
	}
	data, err := decodeValue(msg.Data)
	if err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrStream, kind, err)
	}
	segs := splitPath(msg.Path)

	if kind == "patch" {
		fields, ok := data.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: patch data is not an object", ErrStream)
		}
		for k, v := range fields {
			t.set(append(append([]string(nil), segs...), splitPath(k)...), v)
		}
	} else {
		t.set(segs, data)
	}
	t.trim()
	return nil
}

func (t *keyedTree) set(segs []string, v any) {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		v = nil
	}
	if len(segs) == 0 {
		m, ok := v.(map[string]any)
		if !ok {
			m = map[string]any{}
		}
		t.root = m
		return
	}
	setPath(t.root, segs, v)
}

// setPath writes v at segs below m. A nil v deletes, and parents left empty are removed.
func setPath(m map[string]any, segs []string, v any) {
	key := segs[0]
	if len(segs) == 1 {
		if v == nil {
			delete(m, key)
		} else {
			m[key] = v
		}
		return
	}
	child, ok := m[key].(map[string]any)
	if !ok {
		if v == nil {
			return
		}
		child = map[string]any{}
		m[key] = child
	}
	setPath(child, segs[1:], v)
	if len(child) == 0 {
		delete(m, key)
	}
}

func (t *keyedTree) sortedKeys() []string {
	keys := make([]string, 0, len(t.root))
	for k := range t.root {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
	return keys
}

// trim drops the oldest keys beyond the limit.
func (t *keyedTree) trim() {
	if len(t.root) <= t.limit {
		return
	}
	keys := t.sortedKeys()
	for _, k := range keys[:len(keys)-t.limit] {
		delete(t.root, k)
	}
}

// snapshot returns the collection in key order. Records are copied so later events cannot
// change a delivered snapshot.
func (t *keyedTree) snapshot() sensor.Snapshot {
	keys := t.sortedKeys()
	snap := make(sensor.Snapshot, 0, len(keys))
	for _, k := range keys {
		snap = append(snap, sensor.Entry{ID: k, Raw: copyRecord(toRecord(t.root[k]))})
	}
	return snap
}

// keyLess orders keys the way the database orders by key: 32-bit integer keys first,
// numerically, then everything else lexicographically.
func keyLess(a, b string) bool {
	ai, aInt := intKey(a)
	bi, bInt := intKey(b)
	switch {
	case aInt && bInt:
		return ai < bi
	case aInt:
		return true
	case bInt:
		return false
	}
	return a < b
}

func intKey(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return n, strconv.FormatInt(n, 10) == s
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func decodeValue(raw json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func copyRecord(r sensor.RawRecord) sensor.RawRecord {
	if r == nil {
		return nil
	}
	out := make(sensor.RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
