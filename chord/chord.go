// Package chord implements the Chord variant. Keys live on a modular
// ring replicated across k independent overlays; every node keeps a
// finger table per overlay and lookups hop greedily toward the node
// whose id most tightly precedes the key.
package chord

import (
	"github.com/pkg/errors"

	"dhtsim/dht"
	"dhtsim/sim"
)

// Packet kinds for ring maintenance.
const (
	KindGetSucc dht.Kind = "get_succ"
	KindSetSucc dht.Kind = "set_succ"
	KindSetPred dht.Kind = "set_pred"
)

const (
	// DefaultK is the number of ring overlays each key is replicated on.
	DefaultK = 5
)

// NodeParams configure one Chord node.
type NodeParams struct {
	dht.DHTNodeParams
	// K is the number of independent rings the node participates in.
	K int
}

// Node is a Chord node. succ, pred and ft are indexed by ring; within a
// ring, ft holds one finger per bit of the id space with the successor
// mirrored in the last slot.
type Node struct {
	*dht.DHTNode

	k    int
	succ []*Node
	pred []*Node
	ft   [][]*Node
}

func NewNode(params NodeParams) *Node {
	if params.K == 0 {
		params.K = DefaultK
	}
	n := &Node{k: params.K}
	params.Self = n
	n.DHTNode = dht.NewDHTNode(params.DHTNodeParams)
	n.succ = make([]*Node, n.k)
	n.pred = make([]*Node, n.k)
	n.ft = make([][]*Node, n.k)
	for index := range n.ft {
		row := make([]*Node, n.Bits())
		for x := range row {
			row[x] = n
		}
		n.ft[index] = row
	}
	return n
}

func (n *Node) mask() uint64 {
	if n.Bits() == 64 {
		return ^uint64(0)
	}
	return 1<<uint(n.Bits()) - 1
}

// Distance is how far b sits ahead of a walking the ring forward.
func (n *Node) Distance(a, b uint64) uint64 {
	return (b - a) & n.mask()
}

// setSucc rewires the successor on one ring. The successor doubles as
// the farthest finger.
func (n *Node) setSucc(index int, m *Node) {
	n.succ[index] = m
	n.ft[index][n.Bits()-1] = m
}

func (n *Node) setPred(index int, m *Node) {
	n.pred[index] = m
}

// bestNode returns the known node most tightly preceding key on ring
// index, and whether that is this node itself. The node always counts as
// its own candidate, whatever the finger table holds.
func (n *Node) bestNode(key uint64, index int) (*Node, bool) {
	best := n
	for _, m := range n.ft[index] {
		if n.Distance(m.ID(), key) < n.Distance(best.ID(), key) {
			best = m
		}
	}
	return best, best == n
}

// forward asks to for its best node on ring index.
func (n *Node) forward(to *Node, key uint64, index int) *dht.Request {
	ask := dht.NewPacket(dht.KindGetNode, map[string]any{"key": key, "index": index})
	return n.SendRequest(to.HandleFindNode, ask)
}

// findNodeOnIndex walks ring index toward the node responsible for key,
// one get_node hop at a time, until a node names itself as the best
// candidate. A timed-out hop abandons the walk with (nil, -1).
func (n *Node) findNodeOnIndex(p *sim.Proc, key uint64, index int, askTo *Node) (*Node, int) {
	var best *Node
	var found bool
	if askTo != nil {
		best, found = askTo, false
	} else {
		best, found = n.bestNode(key, index)
	}
	hops := 0
	for !found {
		req := n.forward(best, key, index)
		pkt, err := n.WaitResponse(p, req)
		if err != nil {
			n.Warnf("lookup of %d on ring %d gave up after %d hops", key, index, hops)
			return nil, -1
		}
		hops++
		next := pkt.Payload["best_node"].(*Node)
		found = next == best
		best = next
	}
	return best, hops
}

// lookupAll runs findNodeOnIndex on every ring concurrently. The result
// is ring-indexed with nil for rings that timed out; hops is the count of
// the slowest ring, or -1 when none answered.
func (n *Node) lookupAll(p *sim.Proc, key uint64, askTo *Node) ([]*Node, int) {
	found := make([]*Node, n.k)
	hops := make([]int, n.k)
	procs := make([]*sim.Proc, n.k)
	for index := 0; index < n.k; index++ {
		index := index
		procs[index] = n.Env().Go(func(p *sim.Proc) {
			found[index], hops[index] = n.findNodeOnIndex(p, key, index, askTo)
		})
	}
	ends := make([]*sim.Signal, len(procs))
	for i, pr := range procs {
		ends[i] = pr.End()
	}
	p.Wait(sim.AllOf(n.Env(), ends...))
	max := -1
	for _, h := range hops {
		if h > max {
			max = h
		}
	}
	return found, max
}

// FindNode resolves the nodes responsible for key, one per ring. Rings
// that timed out are dropped from the result; hops is -1 only when every
// ring did.
func (n *Node) FindNode(p *sim.Proc, key uint64, askTo dht.Peer) ([]dht.Peer, int, error) {
	var boot *Node
	if m, ok := askTo.(*Node); ok {
		boot = m
	}
	nodes, hops := n.lookupAll(p, key, boot)
	peers := make([]dht.Peer, 0, len(nodes))
	for _, m := range nodes {
		if m != nil {
			peers = append(peers, m)
		}
	}
	return peers, hops, nil
}

// Join splices the node into every ring through boot: find the
// predecessor-to-be, ask it for its successor, then point the pair at the
// newcomer before rewiring locally.
func (n *Node) Join(p *sim.Proc, to dht.Peer) error {
	boot, ok := to.(*Node)
	if !ok {
		return dht.ErrProtocolViolation{Msg: "chord node joining through a foreign peer"}
	}
	for index := 0; index < n.k; index++ {
		if err := n.joinIndex(p, index, boot); err != nil {
			return errors.Wrapf(err, "joining ring %d through %v", index, boot)
		}
	}
	n.Logf("joined the network")
	return nil
}

func (n *Node) joinIndex(p *sim.Proc, index int, boot *Node) error {
	node, _ := n.findNodeOnIndex(p, n.ID(), index, boot)
	if node == nil {
		return errors.New("lookup timed out")
	}
	ask := dht.NewPacket(KindGetSucc, map[string]any{"index": index})
	pkt, err := n.WaitResponse(p, n.SendRequest(node.HandleGetSucc, ask))
	if err != nil {
		return errors.Wrapf(err, "asking %v for its successor", node)
	}
	succ, _ := pkt.Payload["succ"].(*Node)
	if succ == nil {
		return errors.Errorf("%v has no successor", node)
	}
	acks := []*dht.Request{
		n.SendRequest(node.HandleSetSucc, dht.NewPacket(KindSetSucc, map[string]any{"index": index, "succ": n})),
		n.SendRequest(succ.HandleSetPred, dht.NewPacket(KindSetPred, map[string]any{"index": index, "pred": n})),
	}
	if _, err := n.WaitResponses(p, acks); err != nil {
		return errors.Wrap(err, "splicing in")
	}
	n.setPred(index, node)
	n.setSucc(index, succ)
	return nil
}

// update refreshes the finger tables: for every table row, look up the
// key 2^x past this node's id and file whatever node answers for it.
func (n *Node) update(p *sim.Proc) {
	for x := 0; x < n.Bits(); x++ {
		key := (n.ID() + 1<<uint(x)) & n.mask()
		nodes, _ := n.lookupAll(p, key, nil)
		for index, m := range nodes {
			if m != nil {
				n.ft[index][x] = m
			}
		}
	}
}

// HandleFindNode answers a get_node packet with the best node this one
// knows for the requested ring.
func (n *Node) HandleFindNode(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.Serve(p, pkt, func() {
		key := dht.PayloadID(pkt, "key")
		index := dht.PayloadInt(pkt, "index")
		best, _ := n.bestNode(key, index)
		n.SendResponse(req, dht.NewPacket(dht.KindReply, map[string]any{"best_node": best, "key": key}))
	})
}

// HandleGetSucc reports the successor on the requested ring, which is nil
// until the node has joined it.
func (n *Node) HandleGetSucc(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.Serve(p, pkt, func() {
		index := dht.PayloadInt(pkt, "index")
		n.SendResponse(req, dht.NewPacket(dht.KindReply, map[string]any{"succ": n.succ[index]}))
	})
}

// HandleSetSucc rewires the successor on the requested ring and
// acknowledges.
func (n *Node) HandleSetSucc(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.Serve(p, pkt, func() {
		index := dht.PayloadInt(pkt, "index")
		m := pkt.Payload["succ"].(*Node)
		n.setSucc(index, m)
		n.Logf("successor on ring %d is now %v", index, m)
		n.SendResponse(req, dht.NewPacket(dht.KindReply, nil))
	})
}

// HandleSetPred rewires the predecessor on the requested ring and
// acknowledges.
func (n *Node) HandleSetPred(p *sim.Proc, pkt *dht.Packet, req *dht.Request) {
	n.Serve(p, pkt, func() {
		index := dht.PayloadInt(pkt, "index")
		m := pkt.Payload["pred"].(*Node)
		n.setPred(index, m)
		n.Logf("predecessor on ring %d is now %v", index, m)
		n.SendResponse(req, dht.NewPacket(dht.KindReply, nil))
	})
}
