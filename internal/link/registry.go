package link

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
)

// DefaultMTU is the ATT MTU before any exchange.
const DefaultMTU = 23

// Peer is a connected client.
type Peer struct {
	ConnID uint16
	Addr   string
	Since  time.Time

	mtu atomic.Uint32
}

// MTU returns the negotiated MTU.
func (p *Peer) MTU() int {
	return int(p.mtu.Load())
}

func (p *Peer) SetMTU(mtu int) {
	p.mtu.Store(uint32(mtu))
}

// Registry tracks live connections by id.
type Registry struct {
	peers *hashmap.Map[uint16, *Peer]
}

func NewRegistry() *Registry {
	return &Registry{peers: hashmap.New[uint16, *Peer]()}
}

// Add registers a peer, returning the existing one if the id is already known.
func (r *Registry) Add(connID uint16, addr string) *Peer {
	p := &Peer{ConnID: connID, Addr: addr, Since: time.Now()}
	p.SetMTU(DefaultMTU)
	actual, _ := r.peers.GetOrInsert(connID, p)
	return actual
}

func (r *Registry) Remove(connID uint16) bool {
	return r.peers.Del(connID)
}

func (r *Registry) Get(connID uint16) (*Peer, bool) {
	return r.peers.Get(connID)
}

// MTU returns the negotiated MTU for connID, or DefaultMTU when unknown.
func (r *Registry) MTU(connID uint16) int {
	if p, ok := r.peers.Get(connID); ok {
		return p.MTU()
	}
	return DefaultMTU
}

func (r *Registry) Len() int {
	return r.peers.Len()
}

// Peers returns the live peers ordered by connection id.
func (r *Registry) Peers() []*Peer {
	out := make([]*Peer, 0, r.peers.Len())
	r.peers.Range(func(_ uint16, p *Peer) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}
