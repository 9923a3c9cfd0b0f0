// Package idgen generates the resource ids (_rid) the emulated backend
// stamps on stored documents.
package idgen

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RIDGenerator issues resource ids.
type RIDGenerator interface {
	NextRID(ctx context.Context) (string, error)
}

const (
	nodeBits = 10
	seqBits  = 12
	maxNode  = 1<<nodeBits - 1
	seqMask  = 1<<seqBits - 1
)

// Epoch is time zero of the millisecond field.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator issues ids laid out as 41 bits of milliseconds since Epoch,
// 10 bits of node and 12 bits of sequence. Ids never decrease: when the
// clock steps back or a millisecond runs out of sequence numbers the
// generator keeps counting on a logical clock ahead of the wall clock.
type Generator struct {
	mu     sync.Mutex
	node   int64
	seq    int64
	lastMs int64
	now    func() time.Time
}

// New returns a generator for node, which must be in [0, 1023].
func New(node int64) (*Generator, error) {
	if node < 0 || node > maxNode {
		return nil, fmt.Errorf("idgen: node %d out of range [0, %d]", node, maxNode)
	}
	return &Generator{node: node, lastMs: -1, now: time.Now}, nil
}

// MustNew is New for constant node ids.
func MustNew(node int64) *Generator {
	g, err := New(node)
	if err != nil {
		panic(err)
	}
	return g
}

// Next returns the next numeric id.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().Sub(Epoch).Milliseconds()
	switch {
	case ms > g.lastMs:
		g.seq = 0
	case g.seq == seqMask:
		ms = g.lastMs + 1
		g.seq = 0
	default:
		ms = g.lastMs
		g.seq++
	}
	g.lastMs = ms
	return ms<<(nodeBits+seqBits) | g.node<<seqBits | g.seq
}

// NextRID implements RIDGenerator.
func (g *Generator) NextRID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return FormatRID(g.Next()), nil
}

// FormatRID renders a numeric id as 16 upper-case hex digits, so string
// order is numeric order.
func FormatRID(id int64) string {
	return fmt.Sprintf("%016X", uint64(id))
}
