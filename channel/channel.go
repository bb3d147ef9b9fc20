package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmcleod/keygate/internal/util"
)

// Node is one peer in the local view of the channel.
type Node struct {
	ID         int64
	LastSeenAt time.Time
}

// Channel is one node's handle on a named broadcast channel.
//
// Open announces the node and starts heartbeats; Leave announces departure
// and releases the transport. No other method may be called after Leave.
type Channel struct {
	name      string
	id        int64
	idSet     bool
	transport Transport
	echoes    bool

	interval  time.Duration
	window    time.Duration
	queueSize int
	log       *slog.Logger
	metrics   *Metrics
	now       func() time.Time

	// mu guards the node view. Eviction and leader election run together
	// under it so no reader observes an intermediate state.
	mu     sync.Mutex
	nodes  map[int64]time.Time
	leader int64

	onLogin   listeners[func()]
	onLogout  listeners[func()]
	onMessage listeners[func(string)]
	onLeader  listeners[func(int64)]

	// sendMu guards out against sends after Leave closed it.
	sendMu  sync.RWMutex
	leaving bool
	out     chan string

	writerDone chan struct{}
	tickCancel context.CancelFunc
	tickDone   chan struct{}
	readCancel context.CancelFunc
	readDone   chan struct{}
	leaveOnce  sync.Once

	// ticking and reading are set while the loops run listeners, so a
	// Leave called from a listener does not wait for its own loop.
	ticking atomic.Bool
	reading atomic.Bool
}

// Open dials the named channel, announces this node as new, and starts the
// heartbeat and receive loops.
func Open(ctx context.Context, d Dialer, name string, opts ...Option) (*Channel, error) {
	c := &Channel{
		name:      name,
		interval:  DefaultHeartbeatInterval,
		queueSize: defaultQueueSize,
		log:       slog.Default(),
		now:       time.Now,
		nodes:     make(map[int64]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	if !c.idSet {
		id, err := util.NodeID()
		if err != nil {
			return nil, fmt.Errorf("generating node id: %w", err)
		}
		c.id = id
	}
	c.window = c.interval * 3 / 2
	c.leader = c.id
	c.log = c.log.With(slog.String("channel", name), slog.Int64("node_id", c.id))

	t, err := d.Dial(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("opening channel %q: %w", name, err)
	}
	c.transport = t
	if e, ok := t.(Echoer); ok {
		c.echoes = e.Echoes()
	}

	c.out = make(chan string, c.queueSize)
	c.writerDone = make(chan struct{})
	go c.writeLoop()

	c.announce(kindNew)
	c.metrics.observeView(0, true)

	tickCtx, tickCancel := context.WithCancel(context.Background())
	c.tickCancel = tickCancel
	c.tickDone = make(chan struct{})
	go c.tickLoop(tickCtx)

	readCtx, readCancel := context.WithCancel(context.Background())
	c.readCancel = readCancel
	c.readDone = make(chan struct{})
	go c.readLoop(readCtx)

	c.log.Info("channel.join")
	return c, nil
}

// ID returns this node's id.
func (c *Channel) ID() int64 {
	return c.id
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return c.name
}

// Echoes reports whether the transport delivers this node's own messages
// back to it. Its own Login, Logout and Post then reach its listeners
// through the receive path.
func (c *Channel) Echoes() bool {
	return c.echoes
}

// LivenessWindow is how long a silent peer stays in the view.
func (c *Channel) LivenessWindow() time.Duration {
	return c.window
}

// IsLeader reports whether this node currently believes it is the leader.
//
// A false answer is reliable: a smaller live id is known. A true answer is
// not exclusive; another node may believe the same during convergence.
func (c *Channel) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader == c.id
}

// Leader returns the id this node currently believes is the leader.
func (c *Channel) Leader() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

// Nodes returns the live peers in the local view, sorted by id.
func (c *Channel) Nodes() []Node {
	c.mu.Lock()
	out := make([]Node, 0, len(c.nodes))
	for id, seen := range c.nodes {
		out = append(out, Node{ID: id, LastSeenAt: seen})
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b Node) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// OnLogin registers fn for every login control message, including this
// node's own. The returned func unregisters it.
func (c *Channel) OnLogin(fn func()) func() {
	return c.onLogin.add(fn)
}

// OnLogout registers fn for every logout control message, including this
// node's own. The returned func unregisters it.
func (c *Channel) OnLogout(fn func()) func() {
	return c.onLogout.add(fn)
}

// OnMessage registers fn for application messages. Reserved messages never
// reach it.
func (c *Channel) OnMessage(fn func(msg string)) func() {
	return c.onMessage.add(fn)
}

// OnLeaderChange registers fn, called with the new leader id whenever the
// local view elects a different leader.
func (c *Channel) OnLeaderChange(fn func(leader int64)) func() {
	return c.onLeader.add(fn)
}

// Login broadcasts the login control message to every node, this one included.
func (c *Channel) Login() {
	c.control(MessageLogin, &c.onLogin)
}

// Logout broadcasts the logout control message to every node, this one included.
func (c *Channel) Logout() {
	c.control(MessageLogout, &c.onLogout)
}

func (c *Channel) control(msg string, l *listeners[func()]) {
	if !c.enqueue(msg) {
		return
	}
	// Transports that echo deliver the message back through readLoop.
	if !c.echoes {
		for _, fn := range l.snapshot() {
			fn()
		}
	}
}

// Post broadcasts an application message to the other nodes. Whether this
// node's OnMessage listeners see it too depends on the transport; see
// Echoes.
func (c *Channel) Post(msg string) error {
	if IsReserved(msg) {
		return fmt.Errorf("%q: %w", msg, ErrReservedMessage)
	}
	if !c.enqueue(msg) {
		return ErrClosed
	}
	return nil
}

// Leave announces departure, flushes queued messages and closes the
// transport. Later calls return nil without doing anything.
//
// Leave may be called from a listener. The loop that ran the listener then
// stops once the listener returns instead of before Leave does.
func (c *Channel) Leave(ctx context.Context) error {
	var err error
	c.leaveOnce.Do(func() {
		c.tickCancel()
		if !c.ticking.Load() {
			<-c.tickDone
		}

		left := formatHeartbeat(kindLeft, c.id, c.now())
		c.sendMu.Lock()
		c.leaving = true
		select {
		case c.out <- left:
			c.metrics.sent(kindLeft.String())
		case <-ctx.Done():
			err = ctx.Err()
		}
		close(c.out)
		c.sendMu.Unlock()

		select {
		case <-c.writerDone:
		case <-ctx.Done():
			err = ctx.Err()
		}

		if cerr := c.transport.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing transport: %w", cerr)
		}
		c.readCancel()
		if !c.reading.Load() {
			<-c.readDone
		}
		c.log.Info("channel.leave")
	})
	return err
}

// enqueue hands msg to the writer without blocking. It reports false once
// the channel is leaving.
func (c *Channel) enqueue(msg string) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.leaving {
		return false
	}
	select {
	case c.out <- msg:
		c.metrics.sent(messageKind(msg))
	default:
		c.metrics.drop()
		c.log.Warn("channel.send.drop", slog.String("kind", messageKind(msg)))
	}
	return true
}

func (c *Channel) announce(k heartbeatKind) {
	c.enqueue(formatHeartbeat(k, c.id, c.now()))
}

func (c *Channel) writeLoop() {
	defer close(c.writerDone)
	for msg := range c.out {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
		err := c.transport.Publish(ctx, msg)
		cancel()
		if err != nil {
			c.log.Warn("channel.publish.fail", slog.String("kind", messageKind(msg)), slog.Any("error", err))
		}
	}
}

func (c *Channel) tickLoop(ctx context.Context) {
	defer close(c.tickDone)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.announce(kindAlive)
			c.ticking.Store(true)
			c.refresh()
			c.ticking.Store(false)
		}
	}
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.readDone)
	for {
		msg, err := c.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return
			}
			c.log.Warn("channel.receive.fail", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.interval):
			}
			continue
		}
		c.reading.Store(true)
		c.handle(msg)
		c.reading.Store(false)
	}
}

func (c *Channel) handle(msg string) {
	hb, isHeartbeat, err := parseHeartbeat(msg)
	if isHeartbeat {
		if err != nil {
			c.log.Debug("channel.heartbeat.malformed", slog.Any("error", err))
			return
		}
		c.observe(hb)
		return
	}

	c.metrics.received(messageKind(msg))
	switch {
	case msg == MessageLogin:
		for _, fn := range c.onLogin.snapshot() {
			fn()
		}
	case msg == MessageLogout:
		for _, fn := range c.onLogout.snapshot() {
			fn()
		}
	case strings.HasPrefix(msg, reservedPrefix):
		c.log.Debug("channel.reserved.ignored", slog.String("message", msg))
	default:
		for _, fn := range c.onMessage.snapshot() {
			fn(msg)
		}
	}
}

// observe folds a peer heartbeat into the view and re-elects.
func (c *Channel) observe(hb heartbeat) {
	if hb.id == c.id {
		return
	}
	c.metrics.received(hb.kind.String())

	c.mu.Lock()
	switch hb.kind {
	case kindAlive, kindNew:
		c.nodes[hb.id] = hb.at
	case kindLeft:
		delete(c.nodes, hb.id)
	}
	changed, leader := c.electLocked()
	c.mu.Unlock()

	if hb.kind == kindNew {
		// Answer newcomers at once so they learn the leader without
		// waiting for the next tick.
		c.announce(kindAlive)
		c.log.Debug("channel.peer.new", slog.Int64("peer_id", hb.id))
	}
	if hb.kind == kindLeft {
		c.log.Debug("channel.peer.left", slog.Int64("peer_id", hb.id))
	}
	if changed {
		c.leaderChanged(leader)
	}
}

// refresh evicts silent peers and re-elects.
func (c *Channel) refresh() {
	c.mu.Lock()
	changed, leader := c.electLocked()
	c.mu.Unlock()
	if changed {
		c.leaderChanged(leader)
	}
}

// electLocked drops peers silent for longer than the liveness window and
// picks the smallest surviving id, this node included.
func (c *Channel) electLocked() (changed bool, leader int64) {
	now := c.now()
	for id, seen := range c.nodes {
		if now.Sub(seen) > c.window {
			delete(c.nodes, id)
			c.log.Debug("channel.peer.evicted", slog.Int64("peer_id", id))
		}
	}
	leader = c.id
	for id := range c.nodes {
		if id < leader {
			leader = id
		}
	}
	changed = leader != c.leader
	c.leader = leader
	c.metrics.observeView(len(c.nodes), leader == c.id)
	return changed, leader
}

func (c *Channel) leaderChanged(leader int64) {
	c.log.Info("channel.leader.change",
		slog.Int64("leader_id", leader),
		slog.Bool("is_leader", leader == c.id))
	for _, fn := range c.onLeader.snapshot() {
		fn(leader)
	}
}
