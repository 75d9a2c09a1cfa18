package app

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/relay"
)

// discoveryWindow bounds how far back the live feed looks.
const discoveryWindow = 4 * time.Hour

// Discover queries the relay set for currently-live rooms hosted by or
// featuring someone in the follow set. Results are descriptor
// snapshots only; nothing is opened or connected.
func (e *Engine) Discover(ctx context.Context, follows []string) ([]*domain.RoomDescriptor, error) {
	since := time.Now().Add(-discoveryWindow).Unix()
	filters := []relay.Filter{
		{
			Authors: follows,
			Kinds:   []int{relay.KindLiveRoom},
			Since:   since,
			Limit:   200,
		},
		{
			Kinds: []int{relay.KindLiveRoom},
			Tags:  map[string][]string{"p": follows},
			Since: since,
			Limit: 200,
		},
	}
	events, err := e.bus.Query(ctx, filters, e.resolver.PrimaryTimeout)
	if err != nil {
		return nil, err
	}

	followSet := make(map[string]bool, len(follows))
	for _, f := range follows {
		followSet[f] = true
	}

	// Keep only the newest record per address.
	newest := make(map[string]*relay.Event)
	for _, ev := range events {
		d := ev.TagValue("d")
		key := domain.RoomAddress{Kind: ev.Kind, Pubkey: ev.Pubkey, DTag: d}.String()
		if cur, ok := newest[key]; !ok || ev.CreatedAt > cur.CreatedAt {
			newest[key] = ev
		}
	}

	var out []*domain.RoomDescriptor
	for _, ev := range newest {
		d, err := domain.DescriptorFromEvent(ev)
		if err != nil {
			continue // malformed feed entries are skipped, not fatal
		}
		if d.Status != domain.StatusLive {
			continue
		}
		if !hasFollowedSpeaker(d, followSet) {
			continue
		}
		e.cache.Put(d)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Raw.CreatedAt > out[j].Raw.CreatedAt
	})
	log.Info().Str("module", "app.discovery").Int("rooms", len(out)).Msg("live feed loaded")
	return out, nil
}

// hasFollowedSpeaker keeps the feed tied to the follow graph: the
// owner, a host, or a speaker must be followed.
func hasFollowedSpeaker(d *domain.RoomDescriptor, follows map[string]bool) bool {
	if len(follows) == 0 {
		return true
	}
	if follows[d.OwnerPubkey] {
		return true
	}
	for _, entry := range d.StaticRoster {
		if (entry.Role == "speaker" || entry.Role == "host") && follows[entry.Pubkey] {
			return true
		}
	}
	return false
}
