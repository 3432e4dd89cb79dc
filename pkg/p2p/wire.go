package p2p

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/uhyunpark/hyperbarter/pkg/app/core/exchange"
)

func init() {
	gob.Register(EventWire{})
}

// EventWire is the gossip envelope of one exchange event.
type EventWire struct {
	Origin string // peer id of the node that committed the event
	Event  []byte // JSON-encoded exchange.Event
}

func encodeEvent(origin string, ev exchange.Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return gobEncode(EventWire{Origin: origin, Event: body})
}

func decodeEvent(data []byte) (EventWire, exchange.Event, error) {
	var w EventWire
	if err := gobDecode(data, &w); err != nil {
		return w, exchange.Event{}, err
	}
	var ev exchange.Event
	if err := json.Unmarshal(w.Event, &ev); err != nil {
		return w, exchange.Event{}, err
	}
	return w, ev, nil
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
