package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncodeReqTagFilters(t *testing.T) {
	t.Parallel()

	data, err := encodeReq("sub-1", []Filter{{
		Authors: []string{"abc"},
		Kinds:   []int{30311},
		Tags:    map[string][]string{"d": {"room-1"}},
		Limit:   1,
	}})
	if err != nil {
		t.Fatalf("encodeReq: %v", err)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		t.Fatalf("frame not a JSON array: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("frame has %d parts, want 3", len(parts))
	}
	var filter map[string]any
	if err := json.Unmarshal(parts[2], &filter); err != nil {
		t.Fatalf("filter: %v", err)
	}
	// Tag filters go on the wire under "#<name>" keys.
	if _, ok := filter["#d"]; !ok {
		t.Errorf("filter missing #d key: %v", filter)
	}
	if _, ok := filter["Tags"]; ok {
		t.Errorf("raw Tags field leaked onto the wire: %v", filter)
	}
}

func TestDecodeFrameEvent(t *testing.T) {
	t.Parallel()

	raw := `["EVENT","sub-1",{"id":"x","pubkey":"abc","created_at":1700000000,"kind":30311,"tags":[["d","room-1"]],"content":"","sig":"s"}]`
	fr, err := decodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if fr.typ != "EVENT" || fr.sub != "sub-1" {
		t.Errorf("typ/sub = %q/%q", fr.typ, fr.sub)
	}
	if fr.event == nil || fr.event.Kind != 30311 || fr.event.TagValue("d") != "room-1" {
		t.Errorf("event = %+v", fr.event)
	}
}

func TestDecodeFrameEOSEAndOK(t *testing.T) {
	t.Parallel()

	fr, err := decodeFrame([]byte(`["EOSE","sub-1"]`))
	if err != nil {
		t.Fatalf("EOSE: %v", err)
	}
	if fr.typ != "EOSE" || fr.sub != "sub-1" {
		t.Errorf("got %+v", fr)
	}

	fr, err = decodeFrame([]byte(`["OK","event-id",true,""]`))
	if err != nil {
		t.Fatalf("OK: %v", err)
	}
	if !fr.ok {
		t.Error("ok = false, want true")
	}
}

func TestDecodeFrameMalformed(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{``, `{}`, `["EVENT"]`, `["WHAT","sub"]`, `["EVENT","sub",{"kind":0}]`} {
		if _, err := decodeFrame([]byte(raw)); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("decodeFrame(%q) err = %v, want ErrMalformedEvent", raw, err)
		}
	}
}

func TestEncodeCloseAndEvent(t *testing.T) {
	t.Parallel()

	data, err := encodeClose("sub-1")
	if err != nil {
		t.Fatalf("encodeClose: %v", err)
	}
	if got := string(data); !strings.Contains(got, `"CLOSE"`) || !strings.Contains(got, `"sub-1"`) {
		t.Errorf("close frame = %s", got)
	}

	ev := NewEvent(KindRoomPresence, "")
	ev.Pubkey = "abc"
	data, err = encodeEvent(ev)
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	if got := string(data); !strings.Contains(got, `"EVENT"`) {
		t.Errorf("event frame = %s", got)
	}
}

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	ev := NewEvent(KindLiveRoom, "")
	ev.Pubkey = "abc"
	ev.CreatedAt = 1700000000
	ev.AddTag("d", "room-1")

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty matches", Filter{}, true},
		{"kind match", Filter{Kinds: []int{KindLiveRoom}}, true},
		{"kind miss", Filter{Kinds: []int{KindRoomPresence}}, false},
		{"author match", Filter{Authors: []string{"abc", "def"}}, true},
		{"author miss", Filter{Authors: []string{"def"}}, false},
		{"since before", Filter{Since: 1600000000}, true},
		{"since after", Filter{Since: 1800000000}, false},
		{"tag match", Filter{Tags: map[string][]string{"d": {"room-1"}}}, true},
		{"tag miss", Filter{Tags: map[string][]string{"d": {"other"}}}, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.filter.Matches(ev); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEventUnmarshalRejectsIncomplete(t *testing.T) {
	t.Parallel()

	if _, err := Unmarshal([]byte(`not json`)); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("bad json err = %v", err)
	}
	if _, err := Unmarshal([]byte(`{"kind":30311}`)); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("missing pubkey err = %v", err)
	}
}
