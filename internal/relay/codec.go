package relay

import (
	"encoding/json"
	"fmt"
)

// Wire frames are JSON arrays: ["EVENT", <sub>, <event>], ["REQ", <sub>,
// <filter>...], ["CLOSE", <sub>], ["EOSE", <sub>], ["OK", <id>, <bool>, <msg>].

type frame struct {
	typ   string
	sub   string
	event *Event
	ok    bool
}

func encodeReq(sub string, filters []Filter) ([]byte, error) {
	parts := []any{"REQ", sub}
	for _, f := range filters {
		parts = append(parts, filterJSON(f))
	}
	return json.Marshal(parts)
}

func encodeClose(sub string) ([]byte, error) {
	return json.Marshal([]any{"CLOSE", sub})
}

func encodeEvent(ev *Event) ([]byte, error) {
	return json.Marshal([]any{"EVENT", ev})
}

// filterJSON renders a Filter with tag filters as "#<name>" keys.
func filterJSON(f Filter) map[string]any {
	m := map[string]any{}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Since > 0 {
		m["since"] = f.Since
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	return m
}

func decodeFrame(data []byte) (*frame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 2 {
		return nil, fmt.Errorf("%w: bad frame", ErrMalformedEvent)
	}
	var typ string
	if err := json.Unmarshal(raw[0], &typ); err != nil {
		return nil, fmt.Errorf("%w: bad frame type", ErrMalformedEvent)
	}
	fr := &frame{typ: typ}
	switch typ {
	case "EVENT":
		if len(raw) < 3 {
			return nil, fmt.Errorf("%w: short EVENT frame", ErrMalformedEvent)
		}
		if err := json.Unmarshal(raw[1], &fr.sub); err != nil {
			return nil, fmt.Errorf("%w: bad subscription id", ErrMalformedEvent)
		}
		ev, err := Unmarshal(raw[2])
		if err != nil {
			return nil, err
		}
		fr.event = ev
	case "EOSE", "CLOSED":
		if err := json.Unmarshal(raw[1], &fr.sub); err != nil {
			return nil, fmt.Errorf("%w: bad subscription id", ErrMalformedEvent)
		}
	case "OK":
		if len(raw) >= 3 {
			_ = json.Unmarshal(raw[2], &fr.ok)
		}
	case "NOTICE":
		// informational only
	default:
		return nil, fmt.Errorf("%w: unknown frame %q", ErrMalformedEvent, typ)
	}
	return fr, nil
}
