package collab

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/odal/internal/apperr"
)

// Applier is the collaboration engine's hook into the block store. Apply is
// called with already-transformed operations, one at a time.
type Applier interface {
	Apply(op Op) error
	Contains(id uuid.UUID) bool
}

// Event is broadcast to session participants.
type Event struct {
	Kind        string `json:"kind"` // "op", "join", "leave", "error"
	Session     string `json:"session"`
	Participant string `json:"participant,omitempty"`
	Op          *Op    `json:"op,omitempty"`
	Err         string `json:"error,omitempty"`
}

// Session states.
const (
	StateIdle   = "idle"
	StateActive = "active"
)

const participantBuffer = 256

type pendingOp struct {
	op       Op
	deadline time.Time
}

type session struct {
	name         string
	participants map[string]chan Event
	log          []Op                // applied ops, in apply order
	seen         map[string]struct{} // op IDs applied or dropped
	pending      []pendingOp
}

func (s *session) state() string {
	if len(s.participants) == 0 {
		return StateIdle
	}
	return StateActive
}

type joinReq struct {
	session, participant string
	reply                chan chan Event
}

type leaveReq struct {
	session, participant string
	done                 chan struct{}
}

type submitReq struct {
	session string
	op      Op
	reply   chan error
}

type stateReq struct {
	session string
	reply   chan string
}

// Engine merges concurrent operations per shared session and applies them to
// the local replica. Like the event broker, a single internal goroutine owns
// all mutable state; the public methods talk to it through channels.
type Engine struct {
	applier     Applier
	pendingWait time.Duration
	logger      *slog.Logger

	joinCh   chan joinReq
	leaveCh  chan leaveReq
	submitCh chan submitReq
	stateCh  chan stateReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewEngine starts a collaboration engine. pendingWait bounds how long an
// operation with unmet dependencies is buffered before it is reported as
// unresolved.
func NewEngine(applier Applier, pendingWait time.Duration, logger *slog.Logger) *Engine {
	if pendingWait <= 0 {
		pendingWait = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		applier:     applier,
		pendingWait: pendingWait,
		logger:      logger,
		joinCh:      make(chan joinReq),
		leaveCh:     make(chan leaveReq),
		submitCh:    make(chan submitReq, 64),
		stateCh:     make(chan stateReq),
		stopCh:      make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.stopped)

	sessions := make(map[string]*session)
	expiry := time.NewTicker(200 * time.Millisecond)
	defer expiry.Stop()

	get := func(name string) *session {
		s, ok := sessions[name]
		if !ok {
			s = &session{
				name:         name,
				participants: make(map[string]chan Event),
				seen:         make(map[string]struct{}),
			}
			sessions[name] = s
		}
		return s
	}

	for {
		select {
		case <-e.stopCh:
			for _, s := range sessions {
				for _, ch := range s.participants {
					close(ch)
				}
			}
			return

		case req := <-e.joinCh:
			s := get(req.session)
			if old, ok := s.participants[req.participant]; ok {
				close(old)
			}
			ch := make(chan Event, participantBuffer)
			s.participants[req.participant] = ch
			e.broadcast(s, req.participant, Event{
				Kind: "join", Session: s.name, Participant: req.participant,
			})
			req.reply <- ch

		case req := <-e.leaveCh:
			if s, ok := sessions[req.session]; ok {
				if ch, ok := s.participants[req.participant]; ok {
					delete(s.participants, req.participant)
					close(ch)
					e.broadcast(s, req.participant, Event{
						Kind: "leave", Session: s.name, Participant: req.participant,
					})
				}
				if s.state() == StateIdle {
					// Keep the log for late rejoining replicas; membership is gone.
					e.logger.Debug("collab: session idle", slog.String("session", s.name))
				}
			}
			close(req.done)

		case req := <-e.submitCh:
			s := get(req.session)
			req.reply <- e.ingest(s, req.op)

		case req := <-e.stateCh:
			if s, ok := sessions[req.session]; ok {
				req.reply <- s.state()
			} else {
				req.reply <- StateIdle
			}

		case <-expiry.C:
			now := time.Now()
			for _, s := range sessions {
				e.expirePending(s, now)
			}
		}
	}
}

// ingest runs one operation through dedupe, transform, dependency buffering,
// and application.
func (e *Engine) ingest(s *session, op Op) error {
	if op.ID == "" {
		return fmt.Errorf("collab: operation without id")
	}
	if op.Type != TypeInsert && op.Type != TypeUpdate && op.Type != TypeDelete && op.Type != TypeMove {
		return fmt.Errorf("collab: unknown operation type %q", op.Type)
	}
	if _, dup := s.seen[op.ID]; dup {
		return nil // at-most-once apply
	}

	switch e.applyOne(s, op) {
	case applied, dropped:
		e.drainPending(s)
	case buffered:
		s.pending = append(s.pending, pendingOp{op: op, deadline: time.Now().Add(e.pendingWait)})
	}
	return nil
}

type applyResult int

const (
	applied applyResult = iota
	dropped
	buffered
)

func (e *Engine) applyOne(s *session, op Op) applyResult {
	if op.Type == TypeMove && op.ParentID == uuid.Nil && op.LeftID == uuid.Nil && op.Page == "" {
		// A move to the front of a root chain stays on the block's own page;
		// slot comparisons need that page spelled out.
		op.Page = e.pageOf(op.BlockID)
	}

	for _, prior := range s.log {
		op = transform(op, prior)
		if op.Dropped {
			break
		}
	}

	if op.Dropped {
		s.seen[op.ID] = struct{}{}
		e.broadcast(s, op.Origin, Event{Kind: "op", Session: s.name, Op: &op})
		return dropped
	}

	for _, id := range references(op) {
		if !e.applier.Contains(id) {
			return buffered
		}
	}

	if op.Type == TypeDelete {
		// Remember the chain slot the delete vacates; transforms of later
		// position references depend on it.
		op.LeftID = e.leftOf(op.BlockID)
	}

	if err := e.applier.Apply(op); err != nil {
		e.logger.Warn("collab: apply failed",
			slog.String("session", s.name),
			slog.String("op", op.ID),
			slog.String("error", err.Error()))
		s.seen[op.ID] = struct{}{}
		e.broadcast(s, op.Origin, Event{Kind: "error", Session: s.name, Op: &op, Err: err.Error()})
		return dropped
	}

	s.log = append(s.log, op)
	s.seen[op.ID] = struct{}{}
	e.broadcast(s, op.Origin, Event{Kind: "op", Session: s.name, Op: &op})
	return applied
}

// leftOf asks the applier for a block's current left neighbour. Appliers that
// can answer implement the optional interface.
func (e *Engine) leftOf(id uuid.UUID) uuid.UUID {
	type leftReporter interface {
		LeftOf(id uuid.UUID) uuid.UUID
	}
	if r, ok := e.applier.(leftReporter); ok {
		return r.LeftOf(id)
	}
	return uuid.Nil
}

// pageOf asks the applier which page a block currently sits on. Appliers
// that can answer implement the optional interface.
func (e *Engine) pageOf(id uuid.UUID) string {
	type pageReporter interface {
		PageOf(id uuid.UUID) string
	}
	if r, ok := e.applier.(pageReporter); ok {
		return r.PageOf(id)
	}
	return ""
}

// drainPending retries buffered ops; each successful apply may unblock more.
func (e *Engine) drainPending(s *session) {
	for {
		progressed := false
		rest := s.pending[:0]
		for _, p := range s.pending {
			if _, dup := s.seen[p.op.ID]; dup {
				continue
			}
			switch e.applyOne(s, p.op) {
			case applied, dropped:
				progressed = true
			case buffered:
				rest = append(rest, p)
			}
		}
		s.pending = rest
		if !progressed {
			return
		}
	}
}

// expirePending reports ops whose dependency never arrived. They are
// surfaced, never silently discarded.
func (e *Engine) expirePending(s *session, now time.Time) {
	rest := s.pending[:0]
	for _, p := range s.pending {
		if now.Before(p.deadline) {
			rest = append(rest, p)
			continue
		}
		s.seen[p.op.ID] = struct{}{}
		op := p.op
		e.logger.Warn("collab: unresolved dependency",
			slog.String("session", s.name), slog.String("op", op.ID))
		e.broadcast(s, "", Event{
			Kind: "error", Session: s.name, Op: &op,
			Err: apperr.ErrUnresolvedDependency.Error(),
		})
	}
	s.pending = rest
}

// broadcast delivers an event once to every participant except the origin.
// A participant that stops draining its channel is disconnected rather than
// blocking the engine loop or dropping events for everyone else.
func (e *Engine) broadcast(s *session, origin string, ev Event) {
	for name, ch := range s.participants {
		if name == origin {
			continue
		}
		select {
		case ch <- ev:
		default:
			delete(s.participants, name)
			close(ch)
			e.logger.Warn("collab: participant evicted, buffer full",
				slog.String("session", s.name), slog.String("participant", name))
		}
	}
}

// Close stops the engine loop and closes all participant channels.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		close(e.stopCh)
	}
	<-e.stopped
}

// Join adds a participant to a session and returns its event channel. The
// session transitions to active on the first join.
func (e *Engine) Join(sessionName, participant string) (<-chan Event, error) {
	if e.closed.Load() {
		return nil, fmt.Errorf("collab: engine closed")
	}
	req := joinReq{session: sessionName, participant: participant, reply: make(chan chan Event, 1)}
	select {
	case e.joinCh <- req:
	case <-e.stopped:
		return nil, fmt.Errorf("collab: engine closed")
	}
	return <-req.reply, nil
}

// Leave removes a participant; the membership change is broadcast to the rest.
func (e *Engine) Leave(sessionName, participant string) {
	if e.closed.Load() {
		return
	}
	req := leaveReq{session: sessionName, participant: participant, done: make(chan struct{})}
	select {
	case e.leaveCh <- req:
		<-req.done
	case <-e.stopped:
	}
}

// Submit hands an operation to the engine. A nil error means the op was
// applied, transformed to a no-op, or buffered awaiting a dependency; only
// malformed operations are rejected here.
func (e *Engine) Submit(sessionName string, op Op) error {
	if e.closed.Load() {
		return fmt.Errorf("collab: engine closed")
	}
	req := submitReq{session: sessionName, op: op, reply: make(chan error, 1)}
	select {
	case e.submitCh <- req:
	case <-e.stopped:
		return fmt.Errorf("collab: engine closed")
	}
	select {
	case err := <-req.reply:
		return err
	case <-e.stopped:
		return fmt.Errorf("collab: engine closed")
	}
}

// State reports whether a session is idle or active.
func (e *Engine) State(sessionName string) string {
	if e.closed.Load() {
		return StateIdle
	}
	req := stateReq{session: sessionName, reply: make(chan string, 1)}
	select {
	case e.stateCh <- req:
		return <-req.reply
	case <-e.stopped:
		return StateIdle
	}
}
