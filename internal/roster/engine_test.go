package roster

import (
	"testing"
	"time"

	"github.com/nestwork/liveroom/internal/domain"
)

var testRoom = domain.RoomAddress{Kind: 30311, Pubkey: "owner", DTag: "room-1"}

func testDescriptor(entries ...domain.RosterEntry) *domain.RoomDescriptor {
	return &domain.RoomDescriptor{
		Address:      testRoom,
		OwnerPubkey:  "owner",
		Status:       domain.StatusLive,
		StaticRoster: entries,
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(testRoom, opts...)
	t.Cleanup(e.Stop)
	return e
}

func presence(pubkey string, at time.Time, hand bool) domain.Presence {
	return domain.Presence{Pubkey: pubkey, Room: testRoom.String(), RaisedHand: hand, At: at}
}

func onStage(s Snapshot, pubkey string) bool {
	p, ok := s.Participant(pubkey)
	return ok && p.OnStage
}

func listening(s Snapshot, pubkey string) bool {
	p, ok := s.Participant(pubkey)
	return ok && p.Listening
}

func TestStaticRosterPlacement(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor(
		domain.RosterEntry{Pubkey: "spk", Role: "speaker"},
		domain.RosterEntry{Pubkey: "mod", Role: "moderator"},
	))

	s := e.Snapshot()
	// The owner defaults to host and is shown on stage, as are static
	// speakers. A moderator role alone does not place anyone.
	if !onStage(s, "owner") {
		t.Error("owner not on stage")
	}
	if !onStage(s, "spk") {
		t.Error("static speaker not on stage")
	}
	if _, ok := s.Participant("mod"); ok {
		t.Error("moderator placed without presence or live membership")
	}
}

func TestPresenceFillsListening(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())
	e.ObservePresenceBroadcast(presence("viewer", time.Now(), false))

	s := e.Snapshot()
	if !listening(s, "viewer") {
		t.Fatal("fresh presence did not place viewer in listening")
	}
}

func TestPresenceRejectsWrongRoomAndStale(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	other := presence("viewer", time.Now(), false)
	other.Room = "30311:owner:other-room"
	e.ObservePresenceBroadcast(other)
	e.ObservePresenceBroadcast(presence("stale", time.Now().Add(-10*time.Minute), false))

	s := e.Snapshot()
	if _, ok := s.Participant("viewer"); ok {
		t.Error("presence for another room accepted")
	}
	if _, ok := s.Participant("stale"); ok {
		t.Error("presence older than the window accepted")
	}
}

func TestPresenceOutOfOrderIsNoop(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	now := time.Now()
	e.ObservePresenceBroadcast(presence("viewer", now, false))
	// An older broadcast with the hand raised must not win.
	e.ObservePresenceBroadcast(presence("viewer", now.Add(-30*time.Second), true))

	s := e.Snapshot()
	if len(s.RaisedHands) != 0 {
		t.Errorf("RaisedHands = %v, want empty", s.RaisedHands)
	}
}

func TestRaisedHandFollowsFreshestBroadcast(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	now := time.Now()
	e.ObservePresenceBroadcast(presence("viewer", now.Add(-2*time.Second), true))
	if s := e.Snapshot(); len(s.RaisedHands) != 1 || s.RaisedHands[0] != "viewer" {
		t.Fatalf("RaisedHands = %v, want [viewer]", s.RaisedHands)
	}

	e.ObservePresenceBroadcast(presence("viewer", now, false))
	if s := e.Snapshot(); len(s.RaisedHands) != 0 {
		t.Fatalf("RaisedHands = %v, want empty after lowering", s.RaisedHands)
	}
}

func TestLiveSetWinsOverEphemeral(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	e.ObservePresenceBroadcast(presence("viewer", time.Now(), false))
	e.ApplyLiveMembership("viewer", true, false)

	s := e.Snapshot()
	if !onStage(s, "viewer") {
		t.Fatal("live publish rights did not move viewer on stage")
	}
	if listening(s, "viewer") {
		t.Fatal("viewer placed in both sets")
	}
}

func TestPromotionClearsRaisedHand(t *testing.T) {
	t.Parallel()

	var promoted []string
	e := newTestEngine(t, WithPromotionHook(func(pubkey string) {
		promoted = append(promoted, pubkey)
	}))
	e.Attach(testDescriptor())

	e.ObservePresenceBroadcast(presence("viewer", time.Now(), true))
	e.ApplyLiveMembership("viewer", true, false)

	s := e.Snapshot()
	if len(s.RaisedHands) != 0 {
		t.Errorf("RaisedHands = %v, promotion should satisfy the hand", s.RaisedHands)
	}
	if len(promoted) != 1 || promoted[0] != "viewer" {
		t.Errorf("promotion hook fired %v, want [viewer]", promoted)
	}
}

func TestLateHandBroadcastIgnoredWhileOnStage(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	e.ApplyLiveMembership("viewer", true, false)
	// A heartbeat still carrying hand=1 arrives after the promotion.
	e.ObservePresenceBroadcast(presence("viewer", time.Now(), true))

	if s := e.Snapshot(); len(s.RaisedHands) != 0 {
		t.Errorf("RaisedHands = %v, want empty", s.RaisedHands)
	}
}

func TestPermissionChangePreservesMute(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	e.ApplyLiveMembership("spk", true, true)
	e.ApplyLivePermissions("spk", false)

	s := e.Snapshot()
	p, ok := s.Participant("spk")
	if !ok || !p.Listening {
		t.Fatalf("spk = %+v, want listening", p)
	}
	if !p.Muted {
		t.Error("permission-only update dropped the mute state")
	}
}

func TestLiveRemoveAndDetach(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	e.ObservePresenceBroadcast(presence("viewer", time.Now(), false))
	e.ApplyLiveMembership("a", true, false)
	e.ApplyLiveMembership("b", false, false)
	e.ApplyLiveMembershipRemoved("a")

	s := e.Snapshot()
	if _, ok := s.Participant("a"); ok {
		t.Error("removed live member still placed")
	}
	if !listening(s, "b") {
		t.Error("remaining live listener lost")
	}

	e.DetachLive()
	s = e.Snapshot()
	if _, ok := s.Participant("b"); ok {
		t.Error("live set survived detach")
	}
	// Ephemeral presence is untouched by a media disconnect.
	if !listening(s, "viewer") {
		t.Error("ephemeral viewer lost on detach")
	}
}

func TestSweepEvictsExpiredPresence(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithWindow(120*time.Second))
	e.Attach(testDescriptor())

	now := time.Now()
	e.ObservePresenceBroadcast(presence("old", now.Add(-100*time.Second), true))
	e.ObservePresenceBroadcast(presence("fresh", now, false))

	e.Sweep(now.Add(50 * time.Second))
	s := e.Snapshot()
	if _, ok := s.Participant("old"); ok {
		t.Error("expired presence survived sweep")
	}
	if len(s.RaisedHands) != 0 {
		t.Errorf("RaisedHands = %v, hand should decay with its presence", s.RaisedHands)
	}
	if !listening(s, "fresh") {
		t.Error("fresh presence evicted")
	}
}

func TestSweepKeepsHandForLivePubkey(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithWindow(120*time.Second))
	e.Attach(testDescriptor())

	now := time.Now()
	e.ObservePresenceBroadcast(presence("viewer", now.Add(-100*time.Second), true))
	e.ApplyLiveMembership("viewer", false, false)

	e.Sweep(now.Add(50 * time.Second))
	s := e.Snapshot()
	if len(s.RaisedHands) != 1 || s.RaisedHands[0] != "viewer" {
		t.Errorf("RaisedHands = %v, live membership should keep the hand", s.RaisedHands)
	}
}

func TestRoleDerivation(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor(
		domain.RosterEntry{Pubkey: "cohost", Role: "moderator"},
	))
	e.ApplyRoomMetadata("owner", []string{"adm"}, false)
	e.ApplyLiveMembership("spk", true, false)
	e.ObservePresenceBroadcast(presence("cohost", time.Now(), false))

	s := e.Snapshot()
	cases := []struct{ pubkey, want string }{
		{"owner", "Host"},
		{"adm", "Moderator"},
		{"spk", "Speaker"},
		{"cohost", "Moderator"},
	}
	for _, tc := range cases {
		if got := s.Role(tc.pubkey); got != tc.want {
			t.Errorf("Role(%s) = %q, want %q", tc.pubkey, got, tc.want)
		}
	}
}

func TestMetadataReplacesAdmins(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	e.ApplyRoomMetadata("host-pk", []string{"a", "b"}, true)
	s := e.Snapshot()
	if s.Host != "host-pk" {
		t.Errorf("Host = %q", s.Host)
	}
	if !s.Recording {
		t.Error("Recording = false")
	}
	// The owner stays an admin across metadata replacements.
	if got, want := len(s.Admins), 3; got != want {
		t.Fatalf("Admins = %v, want %d entries", s.Admins, want)
	}

	e.ApplyRoomMetadata("host-pk", []string{"c"}, false)
	s = e.Snapshot()
	if got, want := len(s.Admins), 2; got != want {
		t.Fatalf("Admins = %v, want %d entries", s.Admins, want)
	}
}

func TestRecordingFlip(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.ApplyRecording(true)
	if s := e.Snapshot(); !s.Recording {
		t.Error("Recording = false after flip")
	}
	e.ApplyRecording(false)
	if s := e.Snapshot(); s.Recording {
		t.Error("Recording = true after clear")
	}
}

func TestSpeakingMuteOverlays(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	e.Attach(testDescriptor())

	e.ApplyLiveMembership("spk", true, false)
	e.ApplySpeaking("spk", 0.8, true)

	s := e.Snapshot()
	p, _ := s.Participant("spk")
	if !p.Muted {
		t.Error("speaking-reported mute not reflected")
	}
	if p.Volume != 0.8 {
		t.Errorf("Volume = %v, want 0.8", p.Volume)
	}
}

func TestTotalParticipantsUsesHint(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	d := testDescriptor(domain.RosterEntry{Pubkey: "spk", Role: "speaker"})
	d.TotalParticipantsHint = 40
	e.Attach(d)
	e.ObservePresenceBroadcast(presence("viewer", time.Now(), false))

	s := e.Snapshot()
	// Two placed participants, but the descriptor advertises more.
	if got, want := s.TotalParticipants, 40; got != want {
		t.Errorf("TotalParticipants = %d, want %d", got, want)
	}
}

func TestSnapshotAfterStop(t *testing.T) {
	t.Parallel()

	e := New(testRoom)
	e.Stop()
	s := e.Snapshot()
	if s.Room != testRoom {
		t.Errorf("Room = %v", s.Room)
	}
	if len(s.OnStage) != 0 || len(s.Listening) != 0 {
		t.Error("stopped engine returned participants")
	}
}
