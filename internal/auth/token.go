// Package auth builds the single-use signed authorization tokens
// carried on every control-plane HTTP call.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/relay"
)

// Scheme is the Authorization header scheme for signed-record tokens.
const Scheme = "Nostr"

// Token produces a fresh bearer credential binding the HTTP method and
// exact URL to the identity's key. Tokens are single-use: one per
// request, never reused across URLs.
func Token(ctx context.Context, method, url string, identity domain.Identity) (string, error) {
	ev := relay.NewEvent(relay.KindHTTPAuth, "")
	ev.Pubkey = identity.Pubkey
	ev.AddTag("u", url)
	ev.AddTag("method", method)

	if identity.Signer == nil {
		return "", domain.ErrSigningDeclined
	}
	if err := identity.Signer.SignEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigningDeclined, err)
	}
	if !ev.Signed() {
		return "", domain.ErrSigningDeclined
	}

	data, err := ev.Marshal()
	if err != nil {
		return "", err
	}
	return Scheme + " " + base64.StdEncoding.EncodeToString(data), nil
}
