package nests

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nestwork/liveroom/internal/domain"
	"github.com/nestwork/liveroom/internal/relay"
)

type stubSigner struct{}

func (stubSigner) SignEvent(ctx context.Context, ev *relay.Event) error {
	ev.ID = "id"
	ev.Sig = "sig"
	return nil
}

func testIdentity() domain.Identity {
	return domain.AccountIdentity("me", stubSigner{})
}

func backedDescriptor(baseURL string) *domain.RoomDescriptor {
	return &domain.RoomDescriptor{
		Address:             domain.RoomAddress{Kind: 30311, Pubkey: "owner", DTag: "room-1"},
		OwnerPubkey:         "owner",
		Status:              domain.StatusLive,
		ControlPlaneBaseURL: baseURL,
		StreamingURL:        "wss://media.example.com",
	}
}

// decodeAuth unpacks the signed event carried by the Authorization header.
func decodeAuth(t *testing.T, header string) *relay.Event {
	t.Helper()
	if !strings.HasPrefix(header, "Nostr ") {
		t.Fatalf("Authorization = %q, want Nostr scheme", header)
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Nostr "))
	if err != nil {
		t.Fatalf("auth payload not base64: %v", err)
	}
	ev, err := relay.Unmarshal(data)
	if err != nil {
		t.Fatalf("auth payload not an event: %v", err)
	}
	return ev
}

func TestJoin(t *testing.T) {
	t.Parallel()

	var gotAuth *relay.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/nests/room-1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("method = %q", r.Method)
		}
		gotAuth = decodeAuth(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(JoinResponse{Token: "media-token"})
	}))
	defer srv.Close()

	c := NewClient()
	out, err := c.Join(context.Background(), backedDescriptor(srv.URL), testIdentity())
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if out.Token != "media-token" {
		t.Errorf("token = %q", out.Token)
	}
	if gotAuth.Kind != relay.KindHTTPAuth {
		t.Errorf("auth kind = %d", gotAuth.Kind)
	}
	// The token binds the exact URL and method of this call.
	if got, want := gotAuth.TagValue("u"), srv.URL+"/api/v1/nests/room-1"; got != want {
		t.Errorf("u tag = %q, want %q", got, want)
	}
	if got, want := gotAuth.TagValue("method"), "GET"; got != want {
		t.Errorf("method tag = %q, want %q", got, want)
	}
}

func TestJoinWithoutControlPlane(t *testing.T) {
	t.Parallel()

	c := NewClient()
	_, err := c.Join(context.Background(), backedDescriptor(""), testIdentity())
	if !errors.Is(err, domain.ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusBadRequest, func(err error) bool {
			var ce *domain.ClientError
			return errors.As(err, &ce) && ce.Code == domain.BadRequest
		}},
		{http.StatusUnauthorized, func(err error) bool {
			var ce *domain.ClientError
			return errors.As(err, &ce) && ce.Code == domain.Unauthorized
		}},
		{http.StatusNotFound, func(err error) bool {
			var ce *domain.ClientError
			return errors.As(err, &ce) && ce.Code == domain.NotFound
		}},
		{http.StatusInternalServerError, func(err error) bool {
			var ue *domain.UnexpectedError
			return errors.As(err, &ue) && ue.Status == http.StatusInternalServerError
		}},
	}
	for _, tc := range cases {
		tc := tc
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := NewClient().Join(context.Background(), backedDescriptor(srv.URL), testIdentity())
		if err == nil || !tc.check(err) {
			t.Errorf("status %d mapped to %v", tc.status, err)
		}
		srv.Close()
	}
}

func TestUpdatePermissionsBody(t *testing.T) {
	t.Parallel()

	var got PermissionChange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/nests/room-1/permissions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient()
	if err := c.GrantStage(context.Background(), backedDescriptor(srv.URL), testIdentity(), "spk"); err != nil {
		t.Fatalf("GrantStage: %v", err)
	}
	if got.Participant != "spk" {
		t.Errorf("participant = %q", got.Participant)
	}
	if got.CanPublish == nil || !*got.CanPublish {
		t.Errorf("can_publish = %v", got.CanPublish)
	}
	if got.IsAdmin != nil || got.MuteMicrophone != nil {
		t.Errorf("unexpected fields set: %+v", got)
	}
}

func TestUpdatePermissionsNoChange(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient()
	err := c.RevokeAdmin(context.Background(), backedDescriptor(srv.URL), testIdentity(), "spk")
	if err != nil {
		t.Fatalf("204 treated as error: %v", err)
	}
}

func TestInfoIsUnauthenticated(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/nests/room-1/info" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("info call carried an Authorization header")
		}
		_ = json.NewEncoder(w).Encode(RoomInfo{Host: "owner", Admins: []string{"adm"}, Recording: true})
	}))
	defer srv.Close()

	info, err := NewClient().Info(context.Background(), backedDescriptor(srv.URL))
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Host != "owner" || !info.Recording || len(info.Admins) != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	t.Parallel()

	var methods []string
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		paths = append(paths, r.URL.Path)
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode([]Recording{{ID: "rec-1", Started: 1700000000}})
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c := NewClient()
	d := backedDescriptor(srv.URL)
	identity := testIdentity()
	ctx := context.Background()

	if err := c.StartRecording(ctx, d, identity); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	recs, err := c.ListRecordings(ctx, d, identity)
	if err != nil {
		t.Fatalf("ListRecordings: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "rec-1" {
		t.Fatalf("recordings = %+v", recs)
	}
	if err := c.StopRecording(ctx, d, identity, "rec-1"); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if err := c.DeleteRecording(ctx, d, identity, "rec-1"); err != nil {
		t.Fatalf("DeleteRecording: %v", err)
	}

	wantMethods := []string{http.MethodPost, http.MethodGet, http.MethodPatch, http.MethodDelete}
	for i, want := range wantMethods {
		if methods[i] != want {
			t.Errorf("call %d method = %s, want %s", i, methods[i], want)
		}
	}
	if paths[2] != "/api/v1/nests/room-1/recording/rec-1" {
		t.Errorf("stop path = %q", paths[2])
	}
}

func TestCreateRoom(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/v1/nests" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("body: %v", err)
		}
		if _, ok := body["relays"]; !ok {
			t.Error("body missing relays")
		}
		_ = json.NewEncoder(w).Encode(CreateRoomResponse{RoomID: "room-9", Token: "tok"})
	}))
	defer srv.Close()

	out, err := NewClient().CreateRoom(context.Background(), srv.URL, testIdentity(), []string{"wss://a.example"}, false)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if out.RoomID != "room-9" || out.Token != "tok" {
		t.Errorf("out = %+v", out)
	}
}

func TestNetworkFailure(t *testing.T) {
	t.Parallel()

	// A closed server produces a transport-level failure.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewClient().Join(context.Background(), backedDescriptor(srv.URL), testIdentity())
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
}
