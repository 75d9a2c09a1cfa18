package app

import (
	"testing"

	"github.com/nestwork/liveroom/internal/domain"
)

func feedDescriptor(owner string, roster ...domain.RosterEntry) *domain.RoomDescriptor {
	return &domain.RoomDescriptor{
		Address:      domain.RoomAddress{Kind: 30311, Pubkey: owner, DTag: "room"},
		OwnerPubkey:  owner,
		Status:       domain.StatusLive,
		StaticRoster: roster,
	}
}

func TestHasFollowedSpeaker(t *testing.T) {
	t.Parallel()

	follows := map[string]bool{"alice": true, "bob": true}

	cases := []struct {
		name string
		d    *domain.RoomDescriptor
		want bool
	}{
		{"followed owner", feedDescriptor("alice"), true},
		{"followed speaker", feedDescriptor("carol",
			domain.RosterEntry{Pubkey: "bob", Role: "speaker"}), true},
		{"followed host entry", feedDescriptor("carol",
			domain.RosterEntry{Pubkey: "alice", Role: "host"}), true},
		{"followed listener only", feedDescriptor("carol",
			domain.RosterEntry{Pubkey: "bob", Role: "member"}), false},
		{"nobody followed", feedDescriptor("carol",
			domain.RosterEntry{Pubkey: "dave", Role: "speaker"}), false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := hasFollowedSpeaker(tc.d, follows); got != tc.want {
				t.Errorf("hasFollowedSpeaker = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasFollowedSpeakerEmptyFollows(t *testing.T) {
	t.Parallel()

	// An empty follow set means an unfiltered feed.
	if !hasFollowedSpeaker(feedDescriptor("anyone"), nil) {
		t.Error("empty follow set filtered the feed")
	}
}
