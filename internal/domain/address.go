// Package domain contains the data model of the live-room engine.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RoomAddress identifies a replaceable room-descriptor record. It is
// stable across descriptor updates; only the most recent signed record
// for an address is current.
type RoomAddress struct {
	Kind   int
	Pubkey string
	DTag   string
}

// ParseRoomAddress parses the "kind:pubkey:dtag" form.
func ParseRoomAddress(s string) (RoomAddress, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[1] == "" {
		return RoomAddress{}, fmt.Errorf("%w: %q", ErrMalformedAddress, s)
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil || kind <= 0 {
		return RoomAddress{}, fmt.Errorf("%w: bad kind in %q", ErrMalformedAddress, s)
	}
	return RoomAddress{Kind: kind, Pubkey: parts[1], DTag: parts[2]}, nil
}

func (a RoomAddress) String() string {
	return fmt.Sprintf("%d:%s:%s", a.Kind, a.Pubkey, a.DTag)
}

func (a RoomAddress) IsZero() bool { return a.Pubkey == "" }
