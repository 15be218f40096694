package dht

import "dhtsim/sim"

// Client issues lookups and stores against DHT nodes. Clients send and
// wait but never serve, so they carry no service queue.
type Client struct {
	Node
}

func NewClient(params NodeParams) *Client {
	c := &Client{}
	if params.Owner == nil {
		params.Owner = c
	}
	c.Node = *NewNode(params)
	return c
}

// FindValue asks peer to look up key. It returns the value, the hop count
// the network reports, and ErrTimeout with hops -1 when peer never
// answers.
func (c *Client) FindValue(p *sim.Proc, peer Peer, key string) (any, int, error) {
	c.Logf("find_value %q via %v", key, peer)
	pkt := NewPacket(KindFindValue, map[string]any{"key": c.KeyID(key)})
	resp, err := c.WaitResponse(p, c.SendRequest(peer.HandleFindValue, pkt))
	if err != nil {
		return nil, -1, err
	}
	return resp.Payload["value"], payloadHops(resp), nil
}

// StoreValue asks peer to store key = value. It returns the hop count the
// network reports, and ErrTimeout with hops -1 when peer never answers.
func (c *Client) StoreValue(p *sim.Proc, peer Peer, key string, value any) (int, error) {
	c.Logf("store_value %q = %v via %v", key, value, peer)
	pkt := NewPacket(KindStoreValue, map[string]any{"key": c.KeyID(key), "value": value})
	resp, err := c.WaitResponse(p, c.SendRequest(peer.HandleStoreValue, pkt))
	if err != nil {
		return -1, err
	}
	return payloadHops(resp), nil
}
