package dht

import "fmt"

// Kind tags a packet with the operation it carries. Kinds exist for
// logging; dispatch is by handler, never by inspecting the kind.
type Kind string

const (
	KindGetNode    Kind = "get_node"
	KindFindValue  Kind = "find_value"
	KindGetValue   Kind = "get_value"
	KindStoreValue Kind = "store_value"
	KindSetValue   Kind = "set_value"
	KindReply      Kind = "reply"
)

// Sender identifies the entity that sent a packet. Concrete node types may
// be recovered by type assertion where a protocol cares (Kademlia refreshes
// buckets from request senders).
type Sender interface {
	Name() string
}

// Packet is the unit of communication. A packet is created without a
// sender; the transmission primitives stamp the sender exactly once, and
// re-sending a stamped packet is a protocol violation. Payload keys are
// short strings chosen by the protocols; values are protocol-defined.
type Packet struct {
	ID      uint64
	Kind    Kind
	Payload map[string]any
	Sender  Sender
}

// packetCount is safe as a plain counter: the kernel never runs two
// goroutines at once.
var packetCount uint64

func NewPacket(kind Kind, payload map[string]any) *Packet {
	if payload == nil {
		payload = make(map[string]any)
	}
	packetCount++
	return &Packet{ID: packetCount, Kind: kind, Payload: payload}
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s#%d", p.Kind, p.ID)
}

// PayloadID reads a required id-typed payload field. A missing or
// malformed field is a protocol violation.
func PayloadID(pkt *Packet, field string) uint64 {
	v, ok := pkt.Payload[field].(uint64)
	if !ok {
		violationf("packet %v: missing or malformed %q field", pkt, field)
	}
	return v
}

// PayloadInt reads a required int payload field.
func PayloadInt(pkt *Packet, field string) int {
	v, ok := pkt.Payload[field].(int)
	if !ok {
		violationf("packet %v: missing or malformed %q field", pkt, field)
	}
	return v
}

// payloadHops reads the hops field of a reply, defaulting to -1.
func payloadHops(pkt *Packet) int {
	if v, ok := pkt.Payload["hops"].(int); ok {
		return v
	}
	return -1
}
