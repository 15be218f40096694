package dht

import (
	"dhtsim/sim"
)

// DHTNodeParams configure a serving node on top of NodeParams.
type DHTNodeParams struct {
	NodeParams
	// Self is the concrete node routed operations go through. It is also
	// recorded as the packet sender unless Owner is set.
	Self            Peer
	MeanServiceTime float64
	QueueCapacity   int
}

// DHTNode is the serving half every protocol shares: a single-slot inbound
// queue that serializes state mutation, a local key-value store, and the
// find/store orchestration that rides on the variant's routing.
type DHTNode struct {
	Node

	self        Peer
	queue       *sim.Resource
	store       map[uint64]any
	meanService float64
	capacity    int
	crashed     bool
}

func NewDHTNode(params DHTNodeParams) *DHTNode {
	if params.Owner == nil {
		params.Owner = params.Self
	}
	if params.MeanServiceTime == 0 {
		params.MeanServiceTime = DefaultMeanServiceTime
	}
	if params.QueueCapacity == 0 {
		params.QueueCapacity = DefaultQueueCapacity
	}
	n := &DHTNode{
		Node:        *NewNode(params.NodeParams),
		self:        params.Self,
		store:       make(map[uint64]any),
		meanService: params.MeanServiceTime,
		capacity:    params.QueueCapacity,
	}
	n.queue = sim.NewResource(n.env)
	return n
}

// ChangeEnv rebinds the node to a fresh environment between simulation
// phases. The service queue restarts empty.
func (n *DHTNode) ChangeEnv(env *sim.Env) {
	n.env = env
	n.queue = sim.NewResource(env)
}

// Crash makes the node unreachable: every inbound packet is dropped and
// never answered, including ones already waiting for service.
func (n *DHTNode) Crash() {
	n.Logf("crashed")
	n.crashed = true
}

func (n *DHTNode) Crashed() bool { return n.crashed }

// LocalGet reads the node's own store, bypassing the network.
func (n *DHTNode) LocalGet(key uint64) (any, bool) {
	v, ok := n.store[key]
	return v, ok
}

// LocalPut writes the node's own store, bypassing the network.
func (n *DHTNode) LocalPut(key uint64, value any) {
	n.store[key] = value
}

// QueueLen is the current service queue length, excluding the packet in
// service.
func (n *DHTNode) QueueLen() int { return n.queue.Len() }

// Serve runs body under the serialized service queue: sample the line at
// entry, wait for the slot, record the wait, run body synchronously,
// consume the service time, release, sample again. body must not suspend;
// long-running work is spawned as its own process. Concrete variants wrap
// their own handlers with it.
func (n *DHTNode) Serve(p *sim.Proc, pkt *Packet, body func()) {
	if n.crashed {
		n.Logf("crashed, dropping %v", pkt)
		return
	}
	if n.queue.Len() >= n.capacity {
		n.Warnf("queue full, dropping %v", pkt)
		return
	}
	n.col.AddLoad(n.name, n.env.Now(), n.entryLoad())
	waited := n.queue.Acquire(p)
	n.col.AddWait(n.name, waited)
	if n.crashed {
		n.queue.Release()
		return
	}
	body()
	p.Sleep(n.rng.Exponential(n.meanService))
	n.queue.Release()
	n.col.AddLoad(n.name, n.env.Now(), n.queue.Len())
}

// entryLoad counts the packets pending service, including this arrival
// when it has to wait.
func (n *DHTNode) entryLoad() int {
	if n.queue.Busy() {
		return n.queue.Len() + 1
	}
	return 0
}

// HandleGetValue serves get_value: read the local store inside the
// critical section and reply.
func (n *DHTNode) HandleGetValue(p *sim.Proc, pkt *Packet, req *Request) {
	n.Serve(p, pkt, func() {
		key := PayloadID(pkt, "key")
		v := n.store[key]
		n.Logf("get_value %d -> %v", key, v)
		n.SendResponse(req, NewPacket(KindReply, map[string]any{"value": v}))
	})
}

// HandleSetValue serves set_value: write the local store inside the
// critical section and acknowledge.
func (n *DHTNode) HandleSetValue(p *sim.Proc, pkt *Packet, req *Request) {
	n.Serve(p, pkt, func() {
		key := PayloadID(pkt, "key")
		v := pkt.Payload["value"]
		n.store[key] = v
		n.Logf("set_value %d = %v", key, v)
		n.SendResponse(req, NewPacket(KindReply, nil))
	})
}

// HandleFindValue serves a client lookup. The routing work suspends, so it
// runs as its own process; the queue slot is held only for the dispatch.
func (n *DHTNode) HandleFindValue(p *sim.Proc, pkt *Packet, req *Request) {
	n.Serve(p, pkt, func() {
		key := PayloadID(pkt, "key")
		n.env.Go(func(p *sim.Proc) {
			v, hops, err := n.FindValue(p, key)
			if err != nil {
				n.Warnf("find_value %d failed: %v", key, err)
			}
			n.SendResponse(req, NewPacket(KindReply, map[string]any{"value": v, "hops": hops}))
		})
	})
}

// HandleStoreValue serves a client store, spawned like HandleFindValue.
func (n *DHTNode) HandleStoreValue(p *sim.Proc, pkt *Packet, req *Request) {
	n.Serve(p, pkt, func() {
		key := PayloadID(pkt, "key")
		v := pkt.Payload["value"]
		n.env.Go(func(p *sim.Proc) {
			hops, err := n.StoreValue(p, key, v)
			if err != nil {
				n.Warnf("store_value %d failed: %v", key, err)
			}
			n.SendResponse(req, NewPacket(KindReply, map[string]any{"hops": hops}))
		})
	})
}

// FindValue routes to the nodes responsible for key and reads the value
// with majority agreement among their answers. hops is -1 when routing
// timed out or no replica answered at all; partial answers still decide a
// value.
func (n *DHTNode) FindValue(p *sim.Proc, key uint64) (any, int, error) {
	n.Logf("looking up %d", key)
	peers, hops, err := n.self.FindNode(p, key, nil)
	if err != nil {
		return nil, -1, err
	}
	reqs := make([]*Request, 0, len(peers))
	for _, peer := range peers {
		ask := NewPacket(KindGetValue, map[string]any{"key": key})
		reqs = append(reqs, n.SendRequest(peer.HandleGetValue, ask))
	}
	pkts, err := n.WaitResponses(p, reqs)
	if err != nil && len(pkts) == 0 {
		hops = -1
	}
	v := decideValue(pkts)
	n.Logf("decided %d -> %v after %d hops", key, v, hops)
	return v, hops, nil
}

// StoreValue routes to the nodes responsible for key and writes the value
// on each. Any missing acknowledgement reports hops -1.
func (n *DHTNode) StoreValue(p *sim.Proc, key uint64, value any) (int, error) {
	n.Logf("storing %d = %v", key, value)
	peers, hops, err := n.self.FindNode(p, key, nil)
	if err != nil {
		return -1, err
	}
	reqs := make([]*Request, 0, len(peers))
	for _, peer := range peers {
		set := NewPacket(KindSetValue, map[string]any{"key": key, "value": value})
		reqs = append(reqs, n.SendRequest(peer.HandleSetValue, set))
	}
	if _, err := n.WaitResponses(p, reqs); err != nil {
		n.Warnf("store %d not fully acknowledged: %v", key, err)
		hops = -1
	}
	return hops, nil
}

// decideValue picks the most common value among the responses, ignoring
// nils. Ties break toward the earliest response. Values must be
// comparable.
func decideValue(pkts []*Packet) any {
	var best any
	bestN := 0
	counts := make(map[any]int)
	for _, pkt := range pkts {
		v := pkt.Payload["value"]
		if v == nil {
			continue
		}
		counts[v]++
		if counts[v] > bestN {
			best, bestN = v, counts[v]
		}
	}
	return best
}
