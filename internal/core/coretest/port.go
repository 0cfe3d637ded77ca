package coretest

import (
	"sync"

	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// Sent is one outbound message recorded by Port.
type Sent struct {
	Kind      string
	Room      domain.RoomID
	To        domain.UserID
	Signal    core.PeerSignal
	TrackKind string
	SDP       string
}

const (
	SentJoin        = "join"
	SentLeave       = "leave"
	SentPeerSignal  = "peer_signal"
	SentPublish     = "sfu_publish"
	SentSubscribe   = "sfu_subscribe"
	SentRenegotiate = "sfu_renegotiate_answer"
)

// Port is an in-memory core.SignalPort.
type Port struct {
	mu     sync.Mutex
	sent   []Sent
	subs   map[int]func(core.Event)
	nextID int
	// Err, when set, fails every send.
	Err error
	// JoinErr, when set, fails only SendJoin.
	JoinErr error
}

func NewPort() *Port {
	return &Port{subs: make(map[int]func(core.Event))}
}

type portSub struct {
	p    *Port
	id   int
	once sync.Once
}

func (s *portSub) Unsubscribe() {
	s.once.Do(func() {
		s.p.mu.Lock()
		delete(s.p.subs, s.id)
		s.p.mu.Unlock()
	})
}

func (p *Port) Subscribe(fn func(core.Event)) core.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.subs[p.nextID] = fn
	return &portSub{p: p, id: p.nextID}
}

// Subscribers reports how many handlers are registered.
func (p *Port) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Emit delivers ev to every subscriber on the caller's goroutine.
func (p *Port) Emit(ev core.Event) {
	p.mu.Lock()
	handlers := make([]func(core.Event), 0, len(p.subs))
	for _, fn := range p.subs {
		handlers = append(handlers, fn)
	}
	p.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (p *Port) record(s Sent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.sent = append(p.sent, s)
	return nil
}

func (p *Port) SendJoin(room domain.RoomID) error {
	p.mu.Lock()
	err := p.JoinErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.record(Sent{Kind: SentJoin, Room: room})
}

func (p *Port) SendLeave() error {
	return p.record(Sent{Kind: SentLeave})
}

func (p *Port) SendPeerSignal(to domain.UserID, sig core.PeerSignal) error {
	return p.record(Sent{Kind: SentPeerSignal, To: to, Signal: sig})
}

func (p *Port) SendSFUPublish(trackKind, sdp string) error {
	return p.record(Sent{Kind: SentPublish, TrackKind: trackKind, SDP: sdp})
}

func (p *Port) SendSFUSubscribe() error {
	return p.record(Sent{Kind: SentSubscribe})
}

func (p *Port) SendSFURenegotiateAnswer(sdp string) error {
	return p.record(Sent{Kind: SentRenegotiate, SDP: sdp})
}

// Sent returns every recorded message.
func (p *Port) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

// SentOf returns the recorded messages of one kind.
func (p *Port) SentOf(kind string) []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Sent
	for _, s := range p.sent {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets recorded messages.
func (p *Port) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}
