// Package app wires the resolver, roster engines, media session, and
// control-plane client into one engine with explicit ownership: one
// session per process, one roster engine per opened room.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwork/liveroom/internal/config"
	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/media"
	"github.com/nestwork/liveroom/internal/nests"
	"github.com/nestwork/liveroom/internal/relay"
	"github.com/nestwork/liveroom/internal/resolve"
	"github.com/nestwork/liveroom/internal/roster"
	"github.com/nestwork/liveroom/internal/session"
)

type Engine struct {
	bus      *relay.Pool
	cache    *resolve.Cache
	resolver *resolve.Resolver
	rooms    *RoomManager
	session  *session.Session
	nests    *nests.Client
	identity domain.Identity

	presenceWindow time.Duration

	mu      sync.Mutex
	watches map[string]*roomWatch
}

func NewEngine(cfg *config.Config, identity domain.Identity) *Engine {
	bus := relay.NewPool(cfg.Relays, cfg.SearchRelays)
	cache := resolve.NewCache()
	e := &Engine{
		bus:   bus,
		cache: cache,
		resolver: &resolve.Resolver{
			Bus:            bus,
			Cache:          cache,
			SearchRelays:   cfg.SearchRelays,
			PrimaryTimeout: cfg.ResolveTimeout,
		},
		session: session.New(media.NewWebRTCBackend(), bus,
			session.WithHeartbeat(cfg.HeartbeatInterval)),
		nests:          nests.NewClient(),
		identity:       identity,
		presenceWindow: cfg.PresenceWindow,
		watches:        make(map[string]*roomWatch),
	}
	e.rooms = NewRoomManager(func(addr domain.RoomAddress) *roster.Engine {
		return roster.New(addr,
			roster.WithWindow(cfg.PresenceWindow),
			roster.WithSweepInterval(cfg.SweepInterval),
			roster.WithPromotionHook(func(pubkey string) {
				go e.handlePromotion(addr, pubkey)
			}),
		)
	})
	return e
}

// handlePromotion reacts to a stage promotion observed by a roster
// engine: log it, and when it is our own in the connected room, the
// raised hand is satisfied.
func (e *Engine) handlePromotion(room domain.RoomAddress, pubkey string) {
	log.Info().Str("module", "app").Str("room", room.String()).
		Str("pubkey", pubkey).Msg("promoted to stage")
	if pubkey == e.identity.Pubkey && e.session.Target() == room {
		e.session.LowerHand()
	}
}

func (e *Engine) Session() *session.Session   { return e.session }
func (e *Engine) Rooms() *RoomManager         { return e.rooms }
func (e *Engine) ControlPlane() *nests.Client { return e.nests }

// Resolve runs one full resolution for the address, with optional
// relay hints from a share link.
func (e *Engine) Resolve(ctx context.Context, addr domain.RoomAddress, hints []string) (*domain.RoomDescriptor, error) {
	return e.resolver.NewResolution(addr, hints).Run(ctx)
}

// Open resolves a room, seeds its roster engine, and starts routing
// its presence and descriptor updates.
func (e *Engine) Open(ctx context.Context, addr domain.RoomAddress, hints []string) (*roster.Engine, error) {
	d, err := e.Resolve(ctx, addr, hints)
	if err != nil {
		return nil, err
	}
	eng := e.rooms.GetOrCreate(addr)
	eng.Attach(d)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.watches[addr.String()]; !ok {
		w, err := e.watchRoom(context.WithoutCancel(ctx), addr, eng)
		if err != nil {
			log.Warn().Str("module", "app").Str("room", addr.String()).Err(err).Msg("presence watch unavailable")
		} else {
			e.watches[addr.String()] = w
		}
	}
	return eng, nil
}

// Close stops watches, roster engines, the session, and the relay pool.
func (e *Engine) Close() {
	e.session.Disconnect()
	e.mu.Lock()
	for key, w := range e.watches {
		w.cancel()
		delete(e.watches, key)
	}
	e.mu.Unlock()
	e.rooms.StopAll()
	e.bus.Close()
}

// Join connects the media session to a live room: obtain a join token
// from the control plane, then connect the backend. Any previously
// connected room must be fully torn down first.
func (e *Engine) Join(ctx context.Context, addr domain.RoomAddress) error {
	eng, err := e.Open(ctx, addr, nil)
	if err != nil {
		return err
	}
	d := eng.Snapshot().Descriptor
	if d == nil {
		return domain.ErrResolutionTimeout
	}

	if cur := e.session.Target(); !cur.IsZero() && cur != addr {
		return domain.ErrAlreadyConnected
	}

	join, err := e.nests.Join(ctx, d, e.identity)
	if err != nil {
		return fmt.Errorf("join token: %w", err)
	}
	if err := e.session.Connect(ctx, d, e.identity, join.Token, eng); err != nil {
		return err
	}

	// Seed moderation state from the backend's metadata document;
	// failures are non-fatal, the live callbacks will catch up.
	if info, err := e.nests.Info(ctx, d); err == nil {
		eng.ApplyRoomMetadata(info.Host, info.Admins, info.Recording)
	}
	return nil
}

// Leave tears the active session down completely.
func (e *Engine) Leave() {
	e.session.Disconnect()
}

// Switch moves the session to another room: strict disconnect of the
// old room, then a fresh connect. Never a direct swap.
func (e *Engine) Switch(ctx context.Context, addr domain.RoomAddress) error {
	e.session.Disconnect()
	return e.Join(ctx, addr)
}

// GoLive republishes the descriptor with status live. Only the room
// owner can restart an ended room.
func (e *Engine) GoLive(ctx context.Context, addr domain.RoomAddress) error {
	eng, ok := e.rooms.Get(addr)
	if !ok {
		return domain.ErrResolutionTimeout
	}
	d := eng.Snapshot().Descriptor
	if d == nil {
		return domain.ErrResolutionTimeout
	}
	if e.identity.Pubkey != d.OwnerPubkey {
		return &domain.ClientError{Code: domain.Unauthorized}
	}

	ev := d.WithStatus(domain.StatusLive)
	if err := e.identity.Signer.SignEvent(ctx, ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSigningDeclined, err)
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		return err
	}
	// Reflect our own update without waiting for the relay echo.
	if updated, err := domain.DescriptorFromEvent(ev); err == nil && e.cache.Put(updated) {
		eng.Attach(updated)
	}
	return nil
}

// EndRoom republishes the descriptor with status ended.
func (e *Engine) EndRoom(ctx context.Context, addr domain.RoomAddress) error {
	eng, ok := e.rooms.Get(addr)
	if !ok {
		return domain.ErrResolutionTimeout
	}
	d := eng.Snapshot().Descriptor
	if d == nil {
		return domain.ErrResolutionTimeout
	}
	if e.identity.Pubkey != d.OwnerPubkey {
		return &domain.ClientError{Code: domain.Unauthorized}
	}
	ev := d.WithStatus(domain.StatusEnded)
	if err := e.identity.Signer.SignEvent(ctx, ev); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSigningDeclined, err)
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		return err
	}
	if updated, err := domain.DescriptorFromEvent(ev); err == nil && e.cache.Put(updated) {
		eng.Attach(updated)
	}
	return nil
}

// descriptorFor returns the current snapshot for moderation calls.
func (e *Engine) descriptorFor(addr domain.RoomAddress) (*domain.RoomDescriptor, *roster.Engine, error) {
	eng, ok := e.rooms.Get(addr)
	if !ok {
		return nil, nil, domain.ErrResolutionTimeout
	}
	d := eng.Snapshot().Descriptor
	if d == nil {
		return nil, nil, domain.ErrResolutionTimeout
	}
	return d, eng, nil
}

// GrantStage asks the control plane to promote a participant. The
// roster only moves once the backend callback confirms.
func (e *Engine) GrantStage(ctx context.Context, addr domain.RoomAddress, participant string) error {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return err
	}
	return e.nests.GrantStage(ctx, d, e.identity, participant)
}

func (e *Engine) RevokeStage(ctx context.Context, addr domain.RoomAddress, participant string) error {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return err
	}
	return e.nests.RevokeStage(ctx, d, e.identity, participant)
}

func (e *Engine) GrantAdmin(ctx context.Context, addr domain.RoomAddress, participant string) error {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return err
	}
	return e.nests.GrantAdmin(ctx, d, e.identity, participant)
}

func (e *Engine) RevokeAdmin(ctx context.Context, addr domain.RoomAddress, participant string) error {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return err
	}
	return e.nests.RevokeAdmin(ctx, d, e.identity, participant)
}

func (e *Engine) StartRecording(ctx context.Context, addr domain.RoomAddress) error {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return err
	}
	return e.nests.StartRecording(ctx, d, e.identity)
}

func (e *Engine) StopRecording(ctx context.Context, addr domain.RoomAddress, recordingID string) error {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return err
	}
	return e.nests.StopRecording(ctx, d, e.identity, recordingID)
}

func (e *Engine) ListRecordings(ctx context.Context, addr domain.RoomAddress) ([]nests.Recording, error) {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return nil, err
	}
	return e.nests.ListRecordings(ctx, d, e.identity)
}

func (e *Engine) DownloadRecording(ctx context.Context, addr domain.RoomAddress, recordingID string) ([]byte, error) {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return nil, err
	}
	return e.nests.DownloadRecording(ctx, d, e.identity, recordingID)
}

func (e *Engine) DeleteRecording(ctx context.Context, addr domain.RoomAddress, recordingID string) error {
	d, _, err := e.descriptorFor(addr)
	if err != nil {
		return err
	}
	return e.nests.DeleteRecording(ctx, d, e.identity, recordingID)
}

// CreateRoom provisions a backed room on a media service and returns
// the backend's room id and first join token.
func (e *Engine) CreateRoom(ctx context.Context, serviceURL string, relays []string, hlsStream bool) (*nests.CreateRoomResponse, error) {
	return e.nests.CreateRoom(ctx, serviceURL, e.identity, relays, hlsStream)
}
