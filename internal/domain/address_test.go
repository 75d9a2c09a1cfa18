package domain

import (
	"errors"
	"testing"
)

func TestParseRoomAddress(t *testing.T) {
	t.Parallel()

	addr, err := ParseRoomAddress("30311:abc:my-room")
	if err != nil {
		t.Fatalf("ParseRoomAddress: %v", err)
	}
	if addr.Kind != 30311 || addr.Pubkey != "abc" || addr.DTag != "my-room" {
		t.Fatalf("got %+v", addr)
	}
	if got, want := addr.String(), "30311:abc:my-room"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestParseRoomAddressDTagWithColons(t *testing.T) {
	t.Parallel()

	addr, err := ParseRoomAddress("30311:abc:a:b:c")
	if err != nil {
		t.Fatalf("ParseRoomAddress: %v", err)
	}
	if got, want := addr.DTag, "a:b:c"; got != want {
		t.Fatalf("DTag = %q, want %q", got, want)
	}
}

func TestParseRoomAddressMalformed(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "30311", "30311:abc", "x:abc:d", "-1:abc:d", "30311::d"} {
		if _, err := ParseRoomAddress(in); !errors.Is(err, ErrMalformedAddress) {
			t.Errorf("ParseRoomAddress(%q) err = %v, want ErrMalformedAddress", in, err)
		}
	}
}
