// Package nests is the HTTP client for a room's control plane: join
// token issuance, permission moderation, and recording management.
package nests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nestwork/liveroom/internal/auth"
	"github.com/nestwork/liveroom/internal/domain"
)

const apiBase = "/api/v1/nests"

// JoinResponse carries the media join token.
type JoinResponse struct {
	Token string `json:"token"`
}

// CreateRoomResponse is returned when a new backed room is provisioned.
type CreateRoomResponse struct {
	RoomID    string   `json:"roomId"`
	Endpoints []string `json:"endpoints"`
	Token     string   `json:"token"`
}

// RoomInfo is the backend's room metadata document.
type RoomInfo struct {
	Host      string   `json:"host"`
	Speakers  []string `json:"speakers"`
	Admins    []string `json:"admins"`
	Link      string   `json:"link"`
	Recording bool     `json:"recording"`
}

// Recording describes one stored recording of a room.
type Recording struct {
	ID      string `json:"id"`
	Started int64  `json:"started"`
	Stopped *int64 `json:"stopped"`
	URL     string `json:"url"`
}

// PermissionChange is the body of a permissions call; nil fields are
// omitted and left unchanged by the backend.
type PermissionChange struct {
	Participant    string `json:"participant"`
	CanPublish     *bool  `json:"can_publish,omitempty"`
	MuteMicrophone *bool  `json:"mute_microphone,omitempty"`
	IsAdmin        *bool  `json:"is_admin,omitempty"`
}

// Client issues signed control-plane calls. It never retries: these
// operations are side-effecting and retry policy belongs to the caller.
type Client struct {
	http *http.Client
}

func NewClient() *Client {
	return &Client{http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Client) roomURL(d *domain.RoomDescriptor, suffix string) (string, error) {
	if d.ControlPlaneBaseURL == "" {
		return "", domain.ErrNotSupported
	}
	return d.ControlPlaneBaseURL + apiBase + "/" + d.Address.DTag + suffix, nil
}

// do issues one signed request with a fresh token scoped to exactly
// this method and URL.
func (c *Client) do(ctx context.Context, identity domain.Identity, method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	token, err := auth.Token(ctx, method, url, identity)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	return resp, nil
}

// mapStatus translates a non-2xx status into the error taxonomy.
func mapStatus(status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
		return &domain.ClientError{Code: domain.ClientErrorCode(status)}
	}
	return &domain.UnexpectedError{Status: status}
}

// Join obtains a media join token for the room.
func (c *Client) Join(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity) (*JoinResponse, error) {
	url, err := c.roomURL(d, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, identity, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := mapStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	var out JoinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("join response: %w", err)
	}
	return &out, nil
}

// UpdatePermissions requests a moderation change. The roster is only
// updated once the backend's own callback confirms it.
func (c *Client) UpdatePermissions(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, change PermissionChange) error {
	url, err := c.roomURL(d, "/permissions")
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, identity, http.MethodPost, url, change)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		log.Debug().Str("module", "nests").Str("participant", change.Participant).Msg("permissions unchanged")
	}
	return mapStatus(resp.StatusCode)
}

func boolPtr(b bool) *bool { return &b }

// GrantStage / RevokeStage / GrantAdmin / RevokeAdmin are the common
// moderation shortcuts over UpdatePermissions.
func (c *Client) GrantStage(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, participant string) error {
	return c.UpdatePermissions(ctx, d, identity, PermissionChange{Participant: participant, CanPublish: boolPtr(true)})
}

func (c *Client) RevokeStage(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, participant string) error {
	return c.UpdatePermissions(ctx, d, identity, PermissionChange{Participant: participant, CanPublish: boolPtr(false)})
}

func (c *Client) GrantAdmin(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, participant string) error {
	return c.UpdatePermissions(ctx, d, identity, PermissionChange{Participant: participant, IsAdmin: boolPtr(true)})
}

func (c *Client) RevokeAdmin(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, participant string) error {
	return c.UpdatePermissions(ctx, d, identity, PermissionChange{Participant: participant, IsAdmin: boolPtr(false)})
}

// MuteParticipant asks the backend to mute another participant's
// microphone (moderator action).
func (c *Client) MuteParticipant(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, participant string) error {
	return c.UpdatePermissions(ctx, d, identity, PermissionChange{Participant: participant, MuteMicrophone: boolPtr(true)})
}

// Info fetches room metadata. This endpoint is unauthenticated.
func (c *Client) Info(ctx context.Context, d *domain.RoomDescriptor) (*RoomInfo, error) {
	url, err := c.roomURL(d, "/info")
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if err := mapStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	var out RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("room info: %w", err)
	}
	return &out, nil
}

// StartRecording begins a room recording.
func (c *Client) StartRecording(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity) error {
	url, err := c.roomURL(d, "/recording")
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, identity, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return mapStatus(resp.StatusCode)
}

// StopRecording stops a running recording by id.
func (c *Client) StopRecording(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, recordingID string) error {
	url, err := c.roomURL(d, "/recording/"+recordingID)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, identity, http.MethodPatch, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return mapStatus(resp.StatusCode)
}

// ListRecordings lists stored recordings of the room.
func (c *Client) ListRecordings(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity) ([]Recording, error) {
	url, err := c.roomURL(d, "/recording")
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, identity, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := mapStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	var out []Recording
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("recordings: %w", err)
	}
	return out, nil
}

// DownloadRecording streams one recording's bytes.
func (c *Client) DownloadRecording(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, recordingID string) ([]byte, error) {
	url, err := c.roomURL(d, "/recording/"+recordingID)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, identity, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := mapStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// DeleteRecording removes a stored recording.
func (c *Client) DeleteRecording(ctx context.Context, d *domain.RoomDescriptor, identity domain.Identity, recordingID string) error {
	url, err := c.roomURL(d, "/recording/"+recordingID)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, identity, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return mapStatus(resp.StatusCode)
}

// CreateRoom provisions a new backed room on a service.
func (c *Client) CreateRoom(ctx context.Context, baseURL string, identity domain.Identity, relays []string, hlsStream bool) (*CreateRoomResponse, error) {
	if baseURL == "" {
		return nil, domain.ErrNotSupported
	}
	url := baseURL + apiBase
	body := map[string]any{"relays": relays, "hls_stream": hlsStream}
	resp, err := c.do(ctx, identity, http.MethodPut, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := mapStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	var out CreateRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &out, nil
}
