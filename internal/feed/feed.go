// Package feed subscribes to the upstream sensor feed and delivers full snapshots of the most
// recent records. Sources never reconnect: once a subscription fails it stays dead.
package feed

import (
	"context"
	"errors"

	"github.com/kjstillabower/sensor-dashboard/internal/sensor"
)

// DefaultLimit is the number of most recent records a subscription keeps.
const DefaultLimit = 1500

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("feed path not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrCancelled       = errors.New("subscription cancelled by server")
	ErrAuthRevoked     = errors.New("auth revoked")
	ErrConnectionLost  = errors.New("connection lost")
	ErrStream          = errors.New("malformed stream event")
)

// Sink receives feed deliveries. Snapshot is called on every change of the subscribed
// collection, including changes to an empty collection. Fail is called at most once, after
// which the sink receives nothing more from that subscription.
// Calls for one subscription are serialized.
type Sink interface {
	Snapshot(snap sensor.Snapshot)
	Fail(err error)
}

// Source opens subscriptions against one upstream.
type Source interface {
	Subscribe(ctx context.Context, sink Sink) (Subscription, error)
}

// Subscription is a live feed subscription.
type Subscription interface {
	// Unsubscribe releases the transport and waits until no further sink calls can happen.
	// Safe to call more than once.
	Unsubscribe()
}

func normalizeLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	return n
}

// toRecord returns v as a RawRecord when it is a JSON object. Any other value yields a nil
// record, which the normalizer discards.
func toRecord(v any) sensor.RawRecord {
	if m, ok := v.(map[string]any); ok {
		return sensor.RawRecord(m)
	}
	return nil
}
