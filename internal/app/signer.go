package app

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/relay"
)

// DevSigner is a development stand-in for an external signer: it
// derives a deterministic id and an HMAC tag over the canonical event
// form. Real deployments plug in their key-management signer; the
// engine only depends on the Signer contract.
type DevSigner struct {
	Secret string
}

var _ domain.Signer = (*DevSigner)(nil)

func (s *DevSigner) SignEvent(ctx context.Context, ev *relay.Event) error {
	if s.Secret == "" {
		return domain.ErrSigningDeclined
	}
	canonical, err := json.Marshal([]any{0, ev.Pubkey, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content})
	if err != nil {
		return err
	}
	sum := sha256.Sum256(canonical)
	ev.ID = hex.EncodeToString(sum[:])

	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write(sum[:])
	ev.Sig = hex.EncodeToString(mac.Sum(nil))
	return nil
}
