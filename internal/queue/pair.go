package queue

import "github.com/roach88/substrate/internal/ir"

// Segment is the outgoing buffer of one producer.
//
// A segment is owned by its producer between swaps and must not be shared.
// It alternates two argument arenas so that bytes handed to the incoming
// queue by the last swap stay intact while the producer keeps appending.
type Segment struct {
	recs  []Record
	buf   []byte
	spare []byte
}

// Append queues a copy of args under q.
func (s *Segment) Append(q Qinfo, args []byte) {
	start := len(s.buf)
	s.buf = append(s.buf, args...)
	s.recs = append(s.recs, Record{Q: q, Args: s.buf[start:len(s.buf):len(s.buf)]})
}

// Len is the number of queued records.
func (s *Segment) Len() int { return len(s.recs) }

func (s *Segment) invalidate(id ir.MsgID) int {
	n := 0
	for i := range s.recs {
		if s.recs[i].Q.msg == id && !s.recs[i].Stale {
			s.recs[i].Stale = true
			n++
		}
	}
	return n
}

// Pair is the double-buffered queue of one node: one outgoing segment per
// producer and the incoming queue produced by the last swap.
type Pair struct {
	segs []*Segment
	in   []Record
}

// NewPair creates a pair with one segment per producer.
func NewPair(producers int) *Pair {
	p := &Pair{segs: make([]*Segment, producers)}
	for i := range p.segs {
		p.segs[i] = &Segment{}
	}
	return p
}

// Segment returns producer i's outgoing segment.
func (p *Pair) Segment(i int) *Segment { return p.segs[i] }

// Producers is the number of outgoing segments.
func (p *Pair) Producers() int { return len(p.segs) }

// Swap moves every outgoing record into the incoming queue, in segment
// order, and empties the segments. The previous incoming queue is released.
// Must be called while no producer is appending.
func (p *Pair) Swap() {
	p.in = p.in[:0]
	for _, s := range p.segs {
		p.in = append(p.in, s.recs...)
		clear(s.recs)
		s.recs = s.recs[:0]
		s.buf, s.spare = s.spare[:0], s.buf
	}
}

// Incoming is the queue filled by the last swap. Read-only until the next swap.
func (p *Pair) Incoming() []Record { return p.in }

// Pending is the number of records waiting in outgoing segments.
func (p *Pair) Pending() int {
	n := 0
	for _, s := range p.segs {
		n += len(s.recs)
	}
	return n
}

// Invalidate marks every queued record of a dropped Msg as stale, so a
// later drain rejects it even when the MsgID has been handed to a new Msg.
// It returns the number of records marked. Must be called between steps.
func (p *Pair) Invalidate(id ir.MsgID) int {
	n := 0
	for _, s := range p.segs {
		n += s.invalidate(id)
	}
	for i := range p.in {
		if p.in[i].Q.msg == id && !p.in[i].Stale {
			p.in[i].Stale = true
			n++
		}
	}
	return n
}

// Reset discards every queued record.
func (p *Pair) Reset() {
	for _, s := range p.segs {
		clear(s.recs)
		s.recs = s.recs[:0]
		s.buf = s.buf[:0]
	}
	p.in = p.in[:0]
}
