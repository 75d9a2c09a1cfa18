package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WebRTCBackend talks to the media service over its signaling
// websocket and publishes a single audio track on a peer connection.
// The service drives the SDP exchange (it sends offers, we answer).
type WebRTCBackend struct {
	mu      sync.Mutex
	ws      *websocket.Conn
	pc      *webrtc.PeerConnection
	sender  *webrtc.RTPSender
	track   *webrtc.TrackLocalStaticSample
	events  chan Event
	closing sync.Once
	done    chan struct{}
}

func NewWebRTCBackend() *WebRTCBackend {
	return &WebRTCBackend{}
}

func defaultRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// signalFrame is the signaling envelope, one JSON object per message.
type signalFrame struct {
	Type       string   `json:"type"`
	Pubkey     string   `json:"pubkey,omitempty"`
	CanPublish bool     `json:"can_publish,omitempty"`
	Muted      bool     `json:"muted,omitempty"`
	Level      float64  `json:"level,omitempty"`
	Host       string   `json:"host,omitempty"`
	Speakers   []string `json:"speakers,omitempty"`
	Admins     []string `json:"admins,omitempty"`
	Recording  bool     `json:"recording,omitempty"`
	SDP        string   `json:"sdp,omitempty"`
	Candidate  string   `json:"candidate,omitempty"`
	Enabled    bool     `json:"enabled,omitempty"`
}

func (b *WebRTCBackend) Connect(ctx context.Context, url, token string) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ws != nil {
		return nil, fmt.Errorf("media: already connected")
	}

	header := http.Header{"Authorization": {"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("media dial: %w", err)
	}

	pc, err := webrtc.NewPeerConnection(defaultRTCConfig())
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "mic")
	if err != nil {
		_ = ws.Close()
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = ws.Close()
		_ = pc.Close()
		return nil, err
	}

	b.ws = ws
	b.pc = pc
	b.track = track
	b.sender = sender
	b.events = make(chan Event, 64)
	b.done = make(chan struct{})
	b.closing = sync.Once{}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		b.writeFrame(signalFrame{Type: "candidate", Candidate: cand.ToJSON().Candidate})
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "media.webrtc").Str("ice_state", s.String()).Msg("ICE state")
	})

	go b.readLoop(b.ws, b.pc, b.events, b.done)
	return b.events, nil
}

func (b *WebRTCBackend) writeFrame(f signalFrame) {
	b.mu.Lock()
	ws := b.ws
	b.mu.Unlock()
	if ws == nil {
		return
	}
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Str("module", "media.webrtc").Err(err).Msg("signal write failed")
	}
}

// SetMicrophoneEnabled detaches or reattaches the published track and
// tells the service, so other participants see the mute immediately.
func (b *WebRTCBackend) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	b.mu.Lock()
	sender, track := b.sender, b.track
	b.mu.Unlock()
	if sender == nil {
		return fmt.Errorf("media: not connected")
	}
	if enabled {
		if err := sender.ReplaceTrack(track); err != nil {
			return err
		}
	} else {
		if err := sender.ReplaceTrack(nil); err != nil {
			return err
		}
	}
	b.writeFrame(signalFrame{Type: "microphone", Enabled: enabled})
	return nil
}

func (b *WebRTCBackend) Disconnect(ctx context.Context) error {
	b.close(nil)
	return nil
}

func (b *WebRTCBackend) close(cause error) {
	b.closing.Do(func() {
		b.mu.Lock()
		ws, pc, events, done := b.ws, b.pc, b.events, b.done
		b.ws, b.pc, b.sender, b.track = nil, nil, nil, nil
		b.mu.Unlock()
		if done != nil {
			close(done)
		}
		if ws != nil {
			_ = ws.Close()
		}
		if pc != nil {
			_ = pc.Close()
		}
		if events != nil {
			events <- Disconnected{Err: cause}
			close(events)
		}
	})
}

func (b *WebRTCBackend) readLoop(ws *websocket.Conn, pc *webrtc.PeerConnection, events chan Event, done chan struct{}) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// local disconnect already emitted Disconnected{nil}
			default:
				b.close(err)
			}
			return
		}
		var f signalFrame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Debug().Str("module", "media.webrtc").Err(err).Msg("bad signal frame")
			continue
		}
		switch f.Type {
		case "participant_joined":
			events <- ParticipantJoined{Pubkey: f.Pubkey, CanPublish: f.CanPublish, Muted: f.Muted}
		case "participant_left":
			events <- ParticipantLeft{Pubkey: f.Pubkey}
		case "permissions":
			events <- PermissionsChanged{Pubkey: f.Pubkey, CanPublish: f.CanPublish}
		case "speaking":
			events <- Speaking{Pubkey: f.Pubkey, Level: f.Level, Muted: f.Muted}
		case "metadata":
			events <- RoomMetadata{Host: f.Host, Speakers: f.Speakers, Admins: f.Admins, Recording: f.Recording}
		case "recording":
			events <- RecordingChanged{Recording: f.Recording}
		case "offer":
			b.handleOffer(pc, f.SDP)
		case "candidate":
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: f.Candidate}); err != nil {
				log.Debug().Str("module", "media.webrtc").Err(err).Msg("add candidate failed")
			}
		default:
			log.Debug().Str("module", "media.webrtc").Str("type", f.Type).Msg("unknown signal")
		}
	}
}

func (b *WebRTCBackend) handleOffer(pc *webrtc.PeerConnection, sdp string) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := pc.SetRemoteDescription(offer); err != nil {
		log.Warn().Str("module", "media.webrtc").Err(err).Msg("set remote description failed")
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		log.Warn().Str("module", "media.webrtc").Err(err).Msg("create answer failed")
		return
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		log.Warn().Str("module", "media.webrtc").Err(err).Msg("set local description failed")
		return
	}
	<-gatherComplete
	if local := pc.LocalDescription(); local != nil {
		b.writeFrame(signalFrame{Type: "answer", SDP: local.SDP})
	}
}
