package domain

import (
	"context"

	"github.com/nestwork/liveroom/internal/relay"
)

// Signer signs a record in place. A local-key signer returns
// immediately; a remote-approval signer may block on a round trip and
// must honor ctx cancellation. Either may decline.
type Signer interface {
	SignEvent(ctx context.Context, ev *relay.Event) error
}

// Identity is who the engine acts as: a regular account or a throwaway
// anonymous keypair for lurking in a room.
type Identity struct {
	Pubkey    string
	Anonymous bool
	Signer    Signer
}

func AccountIdentity(pubkey string, signer Signer) Identity {
	return Identity{Pubkey: pubkey, Signer: signer}
}

func AnonymousIdentity(pubkey string, signer Signer) Identity {
	return Identity{Pubkey: pubkey, Anonymous: true, Signer: signer}
}
