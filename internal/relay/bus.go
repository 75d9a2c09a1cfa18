package relay

import (
	"context"
	"errors"
	"time"
)

// ErrQueryTimeout is returned by Query when no matching event arrived
// within the envelope's deadline. Whether to broaden the endpoint set
// and retry is the caller's policy, not the bus's.
var ErrQueryTimeout = errors.New("relay query timed out")

// Filter selects events from a relay subscription or query.
type Filter struct {
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   int64               `json:"since,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(ev *Event) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if ev.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Authors) > 0 {
		ok := false
		for _, a := range f.Authors {
			if ev.Pubkey == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	for name, values := range f.Tags {
		ok := false
		for _, v := range values {
			if ev.HasTag(name, v) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// Subscription is a live stream of matching events. Close is idempotent.
type Subscription interface {
	Events() <-chan *Event
	Close()
}

// Bus is the publish/subscribe/query surface of the relay network.
// Implementations must be safe for concurrent use.
type Bus interface {
	// Publish sends a signed event to the write relay set. Publish
	// failures are best-effort signals for ephemeral records; callers
	// decide whether to retry.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe opens a long-lived subscription on the default relay set.
	Subscribe(ctx context.Context, filters ...Filter) (Subscription, error)

	// Query is the query-with-timeout envelope: it collects events
	// matching the filters until the relays report end-of-stored-events
	// or the timeout elapses. An empty result is ErrQueryTimeout.
	Query(ctx context.Context, filters []Filter, timeout time.Duration) ([]*Event, error)

	// QueryRelays is Query against an explicit endpoint set, used for
	// hint-assisted fallback.
	QueryRelays(ctx context.Context, urls []string, filters []Filter, timeout time.Duration) ([]*Event, error)
}
