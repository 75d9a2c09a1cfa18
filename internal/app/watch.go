package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/relay"
	"github.com/nestwork/liveroom/internal/roster"
)

// roomWatch routes a room's relay traffic into its roster engine: the
// presence stream and descriptor updates. One watch per opened room.
type roomWatch struct {
	addr   domain.RoomAddress
	cancel context.CancelFunc
}

// resubscribeDelay paces redial attempts after a lost relay feed.
const resubscribeDelay = 5 * time.Second

// watchRoom opens the relay subscriptions for the room and pumps them
// until ctx ends. Malformed presence records are dropped silently:
// presence is best-effort, not correctness-critical.
func (e *Engine) watchRoom(ctx context.Context, addr domain.RoomAddress, eng *roster.Engine) (*roomWatch, error) {
	ctx, cancel := context.WithCancel(ctx)

	sub, err := e.subscribeRoom(ctx, addr)
	if err != nil {
		cancel()
		return nil, err
	}
	go e.pumpRoom(ctx, addr, eng, sub)
	return &roomWatch{addr: addr, cancel: cancel}, nil
}

func (e *Engine) subscribeRoom(ctx context.Context, addr domain.RoomAddress) (relay.Subscription, error) {
	since := time.Now().Add(-e.presenceWindow).Unix()
	return e.bus.Subscribe(ctx,
		relay.Filter{
			Kinds: []int{relay.KindRoomPresence},
			Tags:  map[string][]string{"a": {addr.String()}},
			Since: since,
			Limit: 500,
		},
		relay.Filter{
			Kinds:   []int{relay.KindLiveRoom},
			Authors: []string{addr.Pubkey},
			Tags:    map[string][]string{"d": {addr.DTag}},
		},
	)
}

// pumpRoom drains the subscription into the roster engine. A closed
// event channel means every feeding relay connection died; the pump
// then re-issues the subscription over fresh dials until ctx ends.
func (e *Engine) pumpRoom(ctx context.Context, addr domain.RoomAddress, eng *roster.Engine, sub relay.Subscription) {
	defer func() { sub.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				sub.Close()
				next, err := e.resubscribeRoom(ctx, addr)
				if err != nil {
					return
				}
				sub = next
				continue
			}
			e.routeRoomEvent(addr, eng, ev)
		}
	}
}

func (e *Engine) resubscribeRoom(ctx context.Context, addr domain.RoomAddress) (relay.Subscription, error) {
	log.Warn().Str("module", "app.watch").Str("room", addr.String()).Msg("relay feed lost, resubscribing")
	for {
		sub, err := e.subscribeRoom(ctx, addr)
		if err == nil {
			return sub, nil
		}
		log.Warn().Str("module", "app.watch").Str("room", addr.String()).Err(err).Msg("resubscribe failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(resubscribeDelay):
		}
	}
}

func (e *Engine) routeRoomEvent(addr domain.RoomAddress, eng *roster.Engine, ev *relay.Event) {
	switch ev.Kind {
	case relay.KindRoomPresence:
		p, err := domain.PresenceFromEvent(ev)
		if err != nil {
			return
		}
		eng.ObservePresenceBroadcast(p)
	case relay.KindLiveRoom:
		d, err := domain.DescriptorFromEvent(ev)
		if err != nil {
			log.Debug().Str("module", "app.watch").Str("room", addr.String()).Err(err).Msg("bad descriptor update")
			return
		}
		if d.Address != addr {
			return
		}
		// Replaceable-record semantics: attach only when newer.
		if e.cache.Put(d) {
			eng.Attach(d)
			log.Info().Str("module", "app.watch").Str("room", addr.String()).
				Str("status", string(d.Status)).Msg("descriptor refreshed")
		}
	}
}
