// Package relay models the signed records exchanged with the relay
// network and the transport used to query and publish them.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record kinds used by the live-room engine.
const (
	KindLiveRoom     = 30311 // replaceable room descriptor
	KindRoomPresence = 10312 // ephemeral presence broadcast
	KindHTTPAuth     = 27235 // signed HTTP authorization
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrNotSigned      = errors.New("event not signed")
)

// Tag is a positional string list; Tag[0] is the tag name.
type Tag []string

func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Event is one signed record. The signature scheme is external; the
// engine only carries the fields through.
type Event struct {
	ID        string `json:"id"`
	Pubkey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

func NewEvent(kind int, content string) *Event {
	return &Event{
		Kind:      kind,
		CreatedAt: time.Now().Unix(),
		Content:   content,
		Tags:      []Tag{},
	}
}

func (e *Event) AddTag(fields ...string) {
	e.Tags = append(e.Tags, Tag(fields))
}

// FirstTag returns the first tag with the given name.
func (e *Event) FirstTag(name string) (Tag, bool) {
	for _, t := range e.Tags {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// TagValue returns the value of the first tag with the given name, or "".
func (e *Event) TagValue(name string) string {
	t, ok := e.FirstTag(name)
	if !ok {
		return ""
	}
	return t.Value()
}

// TagValues returns the values of all tags with the given name.
func (e *Event) TagValues(name string) []string {
	var out []string
	for _, t := range e.Tags {
		if t.Name() == name {
			out = append(out, t.Value())
		}
	}
	return out
}

func (e *Event) HasTag(name, value string) bool {
	for _, t := range e.Tags {
		if t.Name() == name && t.Value() == value {
			return true
		}
	}
	return false
}

func (e *Event) Signed() bool { return e.Sig != "" }

// Marshal returns the canonical JSON form of the event.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Kind == 0 || ev.Pubkey == "" {
		return nil, ErrMalformedEvent
	}
	return &ev, nil
}
