package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/substrate/internal/dispatch"
	"github.com/roach88/substrate/internal/ir"
	"github.com/roach88/substrate/internal/msg"
)

// Config sizes a cluster.
type Config struct {
	Nodes   int
	Threads int
}

// Cluster joins the engines of all nodes and applies control commands to
// each of them.
//
// Thread-safety model:
//   - Do and the helpers built on it: at most one command outstanding
//   - Stop: safe from any goroutine, bypasses the command lock
//
// After a protocol error the cluster is failed: the hub is aborted and
// every later command returns the same *FailedError.
type Cluster struct {
	mu      sync.Mutex
	engines []*Engine
	hub     *LocalHub
	logger  *slog.Logger

	recorder Recorder
	runIDs   RunIDGenerator
	runID    string

	failMu sync.Mutex
	failed *FailedError
}

// Option allows configuration of a cluster.
type Option func(*Cluster)

// WithLogger sets the logger shared by every node.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cluster) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRecorder sets where per-step statistics go.
func WithRecorder(r Recorder) Option {
	return func(c *Cluster) { c.recorder = r }
}

// WithRunIDGenerator sets the source of the cluster's run id.
//
// Default: UUIDv7RunIDs.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(c *Cluster) {
		if g != nil {
			c.runIDs = g
		}
	}
}

// NewCluster builds one engine per node. register is called on every
// node's table after the core classes and before Finalize, so every node
// finalizes the same table.
func NewCluster(cfg Config, register func(*dispatch.Table) error, opts ...Option) (*Cluster, error) {
	if cfg.Nodes <= 0 {
		cfg.Nodes = 1
	}
	if cfg.Threads <= 0 {
		cfg.Threads = DefaultThreads
	}
	c := &Cluster{
		hub:    NewLocalHub(cfg.Nodes),
		logger: slog.Default(),
		runIDs: UUIDv7RunIDs{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.runID = c.runIDs.Generate()

	for node := 0; node < cfg.Nodes; node++ {
		tbl := dispatch.NewTable()
		if err := RegisterCore(tbl); err != nil {
			return nil, err
		}
		if register != nil {
			if err := register(tbl); err != nil {
				return nil, fmt.Errorf("register classes: %w", err)
			}
		}
		if err := tbl.Finalize(); err != nil {
			return nil, err
		}
		e, err := New(tbl,
			WithNode(node, cfg.Nodes, c.hub),
			WithThreads(cfg.Threads),
			WithNodeLogger(c.logger),
			WithNodeRecorder(c.recorder),
		)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", node, err)
		}
		c.engines = append(c.engines, e)
	}

	c.logger.Info("cluster ready", "run_id", c.runID, "nodes", cfg.Nodes, "threads", cfg.Threads)
	return c, nil
}

// RunID identifies this cluster's run in the journal.
func (c *Cluster) RunID() string { return c.runID }

// Nodes is the number of engines.
func (c *Cluster) Nodes() int { return len(c.engines) }

// Engine returns node i's engine.
func (c *Cluster) Engine(i int) *Engine { return c.engines[i] }

// Table returns node 0's dispatch table. Every node holds an identical one.
func (c *Cluster) Table() *dispatch.Table { return c.engines[0].Table() }

// Err returns the error the cluster failed with, or nil.
func (c *Cluster) Err() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	if c.failed == nil {
		return nil
	}
	return c.failed
}

func (c *Cluster) fail(err error) error {
	c.failMu.Lock()
	if c.failed == nil {
		c.failed = &FailedError{Cause: err}
		c.logger.Error("cluster failed", "error", err)
	}
	fe := c.failed
	c.failMu.Unlock()
	c.hub.Fail(fe)
	return fe
}

// Stop asks a running Start or Step to end at the next endCycle.
func (c *Cluster) Stop() {
	for _, e := range c.engines {
		e.Stop()
	}
}

// Do applies cmd on every node and returns the merged answer.
func (c *Cluster) Do(ctx context.Context, cmd Command) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Err(); err != nil {
		return nil, err
	}

	acks := make([]Ack, len(c.engines))
	var wg sync.WaitGroup
	for i, e := range c.engines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acks[i] = cmd.apply(ctx, e)
			acks[i].Node = i
		}()
	}
	wg.Wait()

	v, err := mergeAcks(cmd, acks)
	if err != nil && ir.IsFatal(err) {
		return nil, c.fail(err)
	}
	return v, err
}

func errKey(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func ackMismatch(cmd Command, what string, a, b Ack) error {
	return ir.NewError(ir.ErrCodeAckMismatch, "nodes acknowledged a command differently",
		"command", cmd.Name(), "what", what,
		fmt.Sprintf("node%d", a.Node), fmt.Sprint(a.Value, " ", errKey(a.Err)),
		fmt.Sprintf("node%d", b.Node), fmt.Sprint(b.Value, " ", errKey(b.Err)))
}

func mergeAcks(cmd Command, acks []Ack) (any, error) {
	for _, a := range acks {
		if a.Err != nil && ir.IsFatal(a.Err) {
			return nil, a.Err
		}
	}
	first := acks[0]
	for _, a := range acks[1:] {
		if errKey(a.Err) != errKey(first.Err) {
			return nil, ackMismatch(cmd, "error", first, a)
		}
	}
	if first.Err != nil {
		return nil, first.Err
	}

	switch cmd.merge() {
	case mergeOwner:
		owner := -1
		for i, a := range acks {
			if !a.Owner {
				continue
			}
			if owner >= 0 {
				return nil, ackMismatch(cmd, "owner", acks[owner], a)
			}
			owner = i
		}
		if owner < 0 {
			return nil, ir.NewError(ir.ErrCodeOutOfRange, "no node holds the addressed object", "command", cmd.Name())
		}
		return acks[owner].Value, nil

	case mergeGather:
		var rows []DumpRow
		for _, a := range acks {
			if r, ok := a.Value.([]DumpRow); ok {
				rows = append(rows, r...)
			}
		}
		sortDump(rows)
		return rows, nil

	case mergeRanges:
		return mergeSync(cmd, acks)

	default:
		for _, a := range acks[1:] {
			if fmt.Sprint(a.Value) != fmt.Sprint(first.Value) {
				return nil, ackMismatch(cmd, "value", first, a)
			}
		}
		return first.Value, nil
	}
}

func mergeSync(cmd Command, acks []Ack) (any, error) {
	res := SyncResult{Ranges: make([][2]uint32, len(acks))}
	var next uint32
	for i, a := range acks {
		r, ok := a.Value.(syncRange)
		if !ok {
			return nil, ackMismatch(cmd, "range", acks[0], a)
		}
		if i == 0 {
			res.N, res.Replicated = r.n, r.replicated
		}
		if r.n != res.N || r.replicated != res.Replicated {
			return nil, ackMismatch(cmd, "count", acks[0], a)
		}
		res.Ranges[i] = [2]uint32{r.start, r.end}
		if res.Replicated {
			if r.start != 0 || r.end != r.n {
				return nil, ackMismatch(cmd, "replica", acks[0], a)
			}
			continue
		}
		if r.start != next || r.end < r.start {
			return nil, ackMismatch(cmd, "tiling", acks[0], a)
		}
		next = r.end
	}
	if !res.Replicated && next != res.N {
		return nil, ackMismatch(cmd, "tiling", acks[0], acks[len(acks)-1])
	}
	return res, nil
}

// CreateElement creates an n-instance element on every node.
func (c *Cluster) CreateElement(class string, parent ir.ElementID, name string, n uint32, opts CreateOpts) (ir.ElementID, error) {
	v, err := c.Do(context.Background(), Create{Class: class, Parent: parent, ElemName: name, N: n, Handler: opts.Handler})
	if err != nil {
		return ir.BadElement, err
	}
	return v.(ir.ElementID), nil
}

// AddMsg connects two elements on every node.
func (c *Cluster) AddMsg(kind msg.Kind, src ir.ObjID, srcPort string, dst ir.ObjID, dstPort string, params msg.Params) (ir.MsgID, error) {
	v, err := c.Do(context.Background(), AddMsg{Kind: kind, Src: src, SrcPort: srcPort, Dst: dst, DstPort: dstPort, Params: params})
	if err != nil {
		return ir.BadMsg, err
	}
	return v.(ir.MsgID), nil
}

// DropMsg removes a Msg on every node.
func (c *Cluster) DropMsg(id ir.MsgID) error {
	_, err := c.Do(context.Background(), DropMsg{Msg: id})
	return err
}

// DeleteElement destroys an element subtree on every node.
func (c *Cluster) DeleteElement(id ir.ElementID) error {
	_, err := c.Do(context.Background(), Delete{Element: id})
	return err
}

// SetField writes one field.
func (c *Cluster) SetField(obj ir.ObjID, field string, value []byte) error {
	_, err := c.Do(context.Background(), SetField{Obj: obj, Field: field, Value: value})
	return err
}

// GetField reads one field from the node that holds it.
func (c *Cluster) GetField(obj ir.ObjID, field string) ([]byte, error) {
	v, err := c.Do(context.Background(), GetField{Obj: obj, Field: field})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Send injects a payload on src's port; it is delivered by the next step.
func (c *Cluster) Send(src ir.ObjID, port string, args []byte) error {
	_, err := c.Do(context.Background(), Send{Src: src, Port: port, Args: args})
	return err
}

// Step runs n steps on every node.
func (c *Cluster) Step(ctx context.Context, n int64) error {
	_, err := c.Do(ctx, Step{N: n})
	return err
}

// Start runs for runtime units of simulated time on every node.
func (c *Cluster) Start(ctx context.Context, runtime float64) error {
	_, err := c.Do(ctx, Start{Runtime: runtime})
	return err
}

// Reinit resets every node.
func (c *Cluster) Reinit() error {
	_, err := c.Do(context.Background(), Reinit{})
	return err
}

// SetClock sets a tick's dt on every node.
func (c *Cluster) SetClock(tick int, dt float64) error {
	_, err := c.Do(context.Background(), SetClock{Tick: tick, Dt: dt})
	return err
}

// UseClock schedules port of the elements matching pattern on tick.
func (c *Cluster) UseClock(pattern, port string, tick int) (int, error) {
	v, err := c.Do(context.Background(), UseClock{Pattern: pattern, Port: port, Tick: tick})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Dump gathers every field of the elements matching pattern.
func (c *Cluster) Dump(pattern string) ([]DumpRow, error) {
	v, err := c.Do(context.Background(), Dump{Pattern: pattern})
	if err != nil {
		return nil, err
	}
	rows, _ := v.([]DumpRow)
	return rows, nil
}

// Find resolves an exact path.
func (c *Cluster) Find(p string) (ir.ElementID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engines[0].Find(p)
}

// Wildcard resolves a path pattern.
func (c *Cluster) Wildcard(pattern string) ([]ir.ElementID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engines[0].Wildcard(pattern)
}

// Elements lists the live elements.
func (c *Cluster) Elements() []ElementInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engines[0].Elements()
}

// Time is the simulated time of the last step.
func (c *Cluster) Time() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engines[0].Clock().CurrentTime()
}
