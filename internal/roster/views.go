package roster

import (
	"sort"
	"strings"

	"github.com/nestwork/liveroom/internal/domain"
)

// Snapshot is a consistent read of the reconciled roster. Every pubkey
// appears in at most one of OnStage and Listening.
type Snapshot struct {
	Room       domain.RoomAddress
	Descriptor *domain.RoomDescriptor

	OnStage   []domain.Participant
	Listening []domain.Participant

	Admins      []string
	RaisedHands []string

	Host              string
	Recording         bool
	TotalParticipants int
}

// Participant finds a pubkey in either placement set.
func (s Snapshot) Participant(pubkey string) (domain.Participant, bool) {
	for _, p := range s.OnStage {
		if p.Pubkey == pubkey {
			return p, true
		}
	}
	for _, p := range s.Listening {
		if p.Pubkey == pubkey {
			return p, true
		}
	}
	return domain.Participant{}, false
}

// Role derives the display role for a pubkey: the owner is the Host,
// backend-confirmed admins are Moderators, anyone on stage is a
// Speaker, and otherwise the static roster's role tag capitalized.
func (s Snapshot) Role(pubkey string) string {
	if s.Descriptor != nil && s.Descriptor.OwnerPubkey == pubkey {
		return "Host"
	}
	for _, a := range s.Admins {
		if a == pubkey {
			return "Moderator"
		}
	}
	for _, p := range s.OnStage {
		if p.Pubkey == pubkey {
			return "Speaker"
		}
	}
	if s.Descriptor != nil {
		for _, entry := range s.Descriptor.StaticRoster {
			if entry.Pubkey == pubkey && entry.Role != "" {
				return capitalize(entry.Role)
			}
		}
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// staticStageRoles are the descriptor roles displayed on stage before
// any live session classifies the room.
func staticOnStage(role string) bool {
	switch role {
	case "host", "speaker", "participant":
		return true
	}
	return false
}

// snapshot runs on the owning goroutine.
func (e *Engine) snapshot(st *engineState) Snapshot {
	s := Snapshot{
		Room:       e.room,
		Descriptor: st.descriptor,
		Host:       st.host,
		Recording:  st.recording,
	}
	if s.Host == "" {
		s.Host = st.owner
	}

	type placement int
	const (
		absent placement = iota
		stage
		listening
	)

	place := make(map[string]placement)

	// Fallback display roster before any classification exists.
	for pubkey, role := range st.staticRole {
		if staticOnStage(role) {
			place[pubkey] = stage
		}
	}
	// Ephemeral listeners fill in pubkeys the live set has not classified.
	for pubkey := range st.ephemeral {
		if place[pubkey] == absent {
			place[pubkey] = listening
		}
	}
	// The live set wins for every pubkey it mentions.
	for pubkey, entry := range st.live {
		if entry.canPublish {
			place[pubkey] = stage
		} else {
			place[pubkey] = listening
		}
	}

	for pubkey, where := range place {
		if where == absent {
			continue
		}
		p := domain.Participant{
			Pubkey:         pubkey,
			OnStage:        where == stage,
			Listening:      where == listening,
			RaisedHand:     st.raised[pubkey],
			Volume:         st.volume[pubkey],
			LastPresenceAt: st.ephemeral[pubkey],
		}
		if entry, ok := st.live[pubkey]; ok {
			p.Muted = entry.muted || st.speakMuted[pubkey]
		}
		if where == stage {
			s.OnStage = append(s.OnStage, p)
		} else {
			s.Listening = append(s.Listening, p)
		}
	}
	sort.Slice(s.OnStage, func(i, j int) bool { return s.OnStage[i].Pubkey < s.OnStage[j].Pubkey })
	sort.Slice(s.Listening, func(i, j int) bool { return s.Listening[i].Pubkey < s.Listening[j].Pubkey })

	for a := range st.admins {
		s.Admins = append(s.Admins, a)
	}
	sort.Strings(s.Admins)
	for r := range st.raised {
		s.RaisedHands = append(s.RaisedHands, r)
	}
	sort.Strings(s.RaisedHands)

	s.TotalParticipants = len(s.OnStage) + len(s.Listening)
	if st.descriptor != nil && st.descriptor.TotalParticipantsHint > s.TotalParticipants {
		s.TotalParticipants = st.descriptor.TotalParticipantsHint
	}
	return s
}
