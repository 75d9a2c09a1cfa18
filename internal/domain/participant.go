package domain

import "time"

// Participant is the reconciled view of one pubkey in a room. Display
// metadata resolves asynchronously and is not required for roster
// correctness.
type Participant struct {
	Pubkey      string
	DisplayName string

	OnStage    bool
	Listening  bool
	Muted      bool
	Volume     float64 // 0..1
	RaisedHand bool

	LastPresenceAt time.Time
}
