package resolve

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/relay"
)

// State of one in-flight resolution. A resolution never re-enters a
// prior state; a retry is a fresh Resolution.
type State int

const (
	StateInitializing State = iota
	StateLoading
	StateAltLoading
	StateReady
	StateTimeout
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateLoading:
		return "loading"
	case StateAltLoading:
		return "altLoading"
	case StateReady:
		return "ready"
	case StateTimeout:
		return "timeout"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Resolver resolves room addresses against the cache and the relay
// network. SearchRelays is the broader endpoint set tried during
// fallback, in addition to any hints carried by the address itself.
type Resolver struct {
	Bus            relay.Bus
	Cache          *Cache
	SearchRelays   []string
	PrimaryTimeout time.Duration
}

// Resolution is one fetch attempt for one address.
type Resolution struct {
	r     *Resolver
	addr  domain.RoomAddress
	hints []string

	mu      sync.Mutex
	state   State
	history []State

	descriptor *domain.RoomDescriptor
	err        error
}

// NewResolution starts a resolution at initializing. hints are relay
// endpoints carried alongside the address (e.g. from a share link).
func (r *Resolver) NewResolution(addr domain.RoomAddress, hints []string) *Resolution {
	return &Resolution{
		r:       r,
		addr:    addr,
		hints:   hints,
		state:   StateInitializing,
		history: []State{StateInitializing},
	}
}

func (res *Resolution) transition(s State) {
	res.mu.Lock()
	res.state = s
	res.history = append(res.history, s)
	res.mu.Unlock()
	log.Debug().Str("module", "resolve").Str("room", res.addr.String()).Stringer("state", s).Msg("resolution state")
}

// State returns the current state.
func (res *Resolution) State() State {
	res.mu.Lock()
	defer res.mu.Unlock()
	return res.state
}

// History returns every state entered, in order.
func (res *Resolution) History() []State {
	res.mu.Lock()
	defer res.mu.Unlock()
	out := make([]State, len(res.history))
	copy(out, res.history)
	return out
}

// Descriptor returns the resolved snapshot once the state is ready.
func (res *Resolution) Descriptor() *domain.RoomDescriptor { return res.descriptor }

func (res *Resolution) filters() []relay.Filter {
	return []relay.Filter{{
		Authors: []string{res.addr.Pubkey},
		Kinds:   []int{res.addr.Kind},
		Tags:    map[string][]string{"d": {res.addr.DTag}},
		Limit:   1,
	}}
}

// Run drives the resolution to a terminal state. The caller may abandon
// it by canceling ctx; the resolution holds no external resources.
func (res *Resolution) Run(ctx context.Context) (*domain.RoomDescriptor, error) {
	if res.addr.IsZero() {
		res.err = domain.ErrMalformedAddress
		res.transition(StateError)
		return nil, res.err
	}

	if d, ok := res.r.Cache.Get(res.addr); ok {
		res.descriptor = d
		res.transition(StateReady)
		return d, nil
	}

	res.transition(StateLoading)
	events, err := res.r.Bus.Query(ctx, res.filters(), res.r.PrimaryTimeout)
	switch {
	case err == nil:
		if newest := res.pick(events); newest != nil {
			return res.finish(newest)
		}
		// Stored events that do not match the exact address are as
		// good as none: broaden to the hint set if there is one.
	case errors.Is(err, relay.ErrQueryTimeout):
	default:
		return nil, err // abandoned (ctx canceled) or transport-level failure
	}
	if len(res.hints) == 0 {
		res.transition(StateTimeout)
		return nil, domain.ErrResolutionTimeout
	}

	res.transition(StateAltLoading)
	alt := append(append([]string{}, res.r.SearchRelays...), res.hints...)
	events, err = res.r.Bus.QueryRelays(ctx, alt, res.filters(), res.r.PrimaryTimeout)
	if err != nil {
		if errors.Is(err, relay.ErrQueryTimeout) {
			res.transition(StateTimeout)
			return nil, domain.ErrResolutionTimeout
		}
		return nil, err
	}
	if newest := res.pick(events); newest != nil {
		return res.finish(newest)
	}
	res.transition(StateTimeout)
	return nil, domain.ErrResolutionTimeout
}

// pick returns the newest exact-address match, or nil.
func (res *Resolution) pick(events []*relay.Event) *relay.Event {
	var newest *relay.Event
	for _, ev := range events {
		if ev.Pubkey != res.addr.Pubkey || ev.Kind != res.addr.Kind || ev.TagValue("d") != res.addr.DTag {
			continue
		}
		if newest == nil || ev.CreatedAt > newest.CreatedAt {
			newest = ev
		}
	}
	return newest
}

// finish decodes the picked record and caches it.
func (res *Resolution) finish(newest *relay.Event) (*domain.RoomDescriptor, error) {
	d, err := domain.DescriptorFromEvent(newest)
	if err != nil {
		res.err = err
		res.transition(StateError)
		return nil, err
	}
	res.r.Cache.Put(d)
	res.descriptor = d
	res.transition(StateReady)
	return d, nil
}
