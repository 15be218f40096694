// Package kad implements the Kademlia variant: XOR distance, k-buckets
// with most-recent contacts at the tail, and iterative alpha-parallel
// lookups.
package kad

import (
	"math/bits"
	"sort"

	"golang.org/x/exp/slices"

	"dhtsim/dht"
	"dhtsim/sim"
)

const (
	DefaultK     = 5
	DefaultAlpha = 3

	// Kademlia peers give up on each other quickly; lookups would stall
	// for the full client timeout otherwise.
	DefaultMaxTimeout = 10.0
)

// NodeParams configure one Kademlia node.
type NodeParams struct {
	dht.DHTNodeParams
	// K is the bucket size and the number of nodes a lookup returns.
	K int
	// Alpha is the number of outstanding requests per lookup round.
	Alpha int
}

// Node is a Kademlia node. Buckets are ordered least to most recently
// seen; bucket i holds nodes whose XOR distance has bit length i+1.
type Node struct {
	*dht.DHTNode

	k       int
	alpha   int
	buckets [][]*Node
}

func NewNode(params NodeParams) *Node {
	if params.K == 0 {
		params.K = DefaultK
	}
	if params.Alpha == 0 {
		params.Alpha = DefaultAlpha
	}
	if params.MaxTimeout == 0 {
		params.MaxTimeout = DefaultMaxTimeout
	}
	n := &Node{k: params.K, alpha: params.Alpha}
	params.Self = n
	n.DHTNode = dht.NewDHTNode(params.DHTNodeParams)
	n.buckets = make([][]*Node, n.Bits())
	return n
}

// Distance is the XOR metric.
func (n *Node) Distance(a, b uint64) uint64 { return a ^ b }

// bucketFor maps a key to the index of the bucket its nodes live in.
func (n *Node) bucketFor(key uint64) int {
	d := n.ID() ^ key
	if d == 0 {
		return 0
	}
	return bits.Len64(d) - 1
}

// updateBucket refreshes m's position: known nodes move to the tail, new
// nodes append, and a full bucket drops its least recently seen node.
func (n *Node) updateBucket(m *Node) {
	if m == n {
		return
	}
	bucket := n.buckets[n.bucketFor(m.ID())]
	for i, cur := range bucket {
		if cur == m {
			copy(bucket[i:], bucket[i+1:])
			bucket[len(bucket)-1] = m
			return
		}
	}
	if len(bucket) < n.k {
		n.buckets[n.bucketFor(m.ID())] = append(bucket, m)
		return
	}
	copy(bucket, bucket[1:])
	bucket[len(bucket)-1] = m
}

// learnSender refreshes the bucket of the node behind an inbound packet.
// Clients and foreign senders are ignored.
func (n *Node) learnSender(pkt *dht.Packet) {
	if m, ok := pkt.Sender.(*Node); ok {
		n.updateBucket(m)
	}
}

// pickNeighbors returns up to k known nodes close to key, scanning the
// key's bucket first and then alternating outward, closest first.
func (n *Node) pickNeighbors(key uint64) []*Node {
	var picked []*Node
	take := func(b int) bool {
		for _, m := range n.buckets[b] {
			picked = append(picked, m)
			if len(picked) == n.k {
				return true
			}
		}
		return false
	}
	center := n.bucketFor(key)
	full := take(center)
	left, right := center-1, center+1
	fromLeft := true
	for !full && (left >= 0 || right < len(n.buckets)) {
		if fromLeft && left >= 0 || right >= len(n.buckets) {
			full = take(left)
			left--
		} else {
			full = take(right)
			right++
		}
		fromLeft = !fromLeft
	}
	sortByDistance(picked, key)
	return picked
}

// FindNode iteratively converges on the k nodes closest to key. Rounds
// that time out continue with the partial answers; the lookup itself never
// fails, it only degrades. askTo seeds the candidate set.
func (n *Node) FindNode(p *sim.Proc, key uint64, askTo dht.Peer) ([]dht.Peer, int, error) {
	n.Logf("looking for key %d", key)
	if m, ok := askTo.(*Node); ok {
		n.updateBucket(m)
	}
	contacted := map[*Node]bool{n: true}
	current := n.pickNeighbors(key)
	hops := 0
	for {
		reqs := n.askNeighbors(current, contacted, key)
		hops++
		pkts, err := n.WaitResponses(p, reqs)
		if err != nil {
			n.Warnf("lookup %d round %d: %v", key, hops, err)
		}
		var done bool
		current, done = n.updateCandidates(pkts, key, current, contacted)
		if done {
			break
		}
	}
	for _, m := range current {
		n.updateBucket(m)
	}
	peers := make([]dht.Peer, len(current))
	for i, m := range current {
		peers[i] = m
	}
	return peers, hops, nil
}

// askNeighbors sends get_node for key to the first alpha uncontacted
// candidates.
func (n *Node) askNeighbors(current []*Node, contacted map[*Node]bool, key uint64) []*dht.Request {
	var toContact []*Node
	for _, m := range current {
		if !contacted[m] {
			contacted[m] = true
			toContact = append(toContact, m)
		}
		if len(toContact) == n.alpha {
			break
		}
	}
	n.Logf("contacting %v for %d", toContact, key)
	reqs := make([]*dht.Request, 0, len(toContact))
	for _, m := range toContact {
		ask := dht.NewPacket(dht.KindGetNode, map[string]any{"key": key})
		reqs = append(reqs, n.SendRequest(m.HandleFindNode, ask))
	}
	return reqs
}

// updateCandidates merges the neighbors of every answer into the candidate
// set and keeps the k closest. The lookup is done when the set stops
// changing or everything in it has been contacted already; the previous
// set stands in that case.
func (n *Node) updateCandidates(pkts []*dht.Packet, key uint64, current []*Node, contacted map[*Node]bool) ([]*Node, bool) {
	seen := make(map[*Node]bool, len(current))
	merged := make([]*Node, 0, len(current)+n.k)
	for _, m := range current {
		seen[m] = true
		merged = append(merged, m)
	}
	for _, pkt := range pkts {
		neighs, _ := pkt.Payload["neighbors"].([]*Node)
		for _, m := range neighs {
			if !seen[m] {
				seen[m] = true
				merged = append(merged, m)
			}
		}
	}
	sortByDistance(merged, key)
	if len(merged) > n.k {
		merged = merged[:n.k]
	}
	if slices.Equal(merged, current) {
		return current, true
	}
	for _, m := range merged {
		if !contacted[m] {
			return merged, false
		}
	}
	return current, true
}

// HandleFindNode answers get_node with the closest known nodes.
func (n *Node) HandleFindNode(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.learnSender(pkt)
	n.Serve(p, pkt, func() {
		key := dht.PayloadID(pkt, "key")
		neighs := n.pickNeighbors(key)
		n.Logf("answering get_node %d with %v", key, neighs)
		n.SendResponse(req, dht.NewPacket(dht.KindReply, map[string]any{"neighbors": neighs}))
	})
}

func (n *Node) HandleGetValue(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.learnSender(pkt)
	n.DHTNode.HandleGetValue(p, pkt, req)
}

func (n *Node) HandleSetValue(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.learnSender(pkt)
	n.DHTNode.HandleSetValue(p, pkt, req)
}

func (n *Node) HandleFindValue(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.learnSender(pkt)
	n.DHTNode.HandleFindValue(p, pkt, req)
}

func (n *Node) HandleStoreValue(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.learnSender(pkt)
	n.DHTNode.HandleStoreValue(p, pkt, req)
}

// Join seeds the buckets with the bootstrap node and looks up the node's
// own id to populate them.
func (n *Node) Join(p *sim.Proc, to dht.Peer) error {
	m, ok := to.(*Node)
	if !ok {
		return dht.ErrProtocolViolation{Msg: "kademlia node joining through a foreign peer"}
	}
	n.updateBucket(m)
	if _, _, err := n.FindNode(p, n.ID(), nil); err != nil {
		return err
	}
	n.Logf("joined the network")
	return nil
}

func sortByDistance(nodes []*Node, key uint64) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID()^key < nodes[j].ID()^key
	})
}
