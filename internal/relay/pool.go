package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoRelays = errors.New("no relays reachable")

// Pool is a Bus backed by websocket connections to a set of relays.
// Connections are dialed lazily and reused; a dead connection is
// dropped and redialed on next use.
type Pool struct {
	defaultRelays []string
	searchRelays  []string

	mu    sync.Mutex
	conns map[string]*relayConn
}

func NewPool(defaultRelays, searchRelays []string) *Pool {
	return &Pool{
		defaultRelays: defaultRelays,
		searchRelays:  searchRelays,
		conns:         make(map[string]*relayConn),
	}
}

// SearchRelays is the broader endpoint set used for fallback queries.
func (p *Pool) SearchRelays() []string { return p.searchRelays }

func (p *Pool) conn(ctx context.Context, url string) (*relayConn, error) {
	p.mu.Lock()
	if c, ok := p.conns[url]; ok && !c.closed() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &relayConn{
		url:  url,
		ws:   ws,
		subs: make(map[string]*connSub),
		done: make(chan struct{}),
	}
	go c.readLoop()

	p.mu.Lock()
	p.conns[url] = c
	p.mu.Unlock()
	log.Debug().Str("module", "relay.pool").Str("relay", url).Msg("connected")
	return c, nil
}

func (p *Pool) Publish(ctx context.Context, ev *Event) error {
	if !ev.Signed() {
		return ErrNotSigned
	}
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	var published int
	for _, url := range p.defaultRelays {
		c, err := p.conn(ctx, url)
		if err != nil {
			log.Warn().Str("module", "relay.pool").Str("relay", url).Err(err).Msg("publish skip")
			continue
		}
		if err := c.write(data); err != nil {
			log.Warn().Str("module", "relay.pool").Str("relay", url).Err(err).Msg("publish write failed")
			continue
		}
		published++
	}
	if published == 0 {
		return ErrNoRelays
	}
	return nil
}

func (p *Pool) Query(ctx context.Context, filters []Filter, timeout time.Duration) ([]*Event, error) {
	return p.QueryRelays(ctx, p.defaultRelays, filters, timeout)
}

func (p *Pool) QueryRelays(ctx context.Context, urls []string, filters []Filter, timeout time.Duration) ([]*Event, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]bool)
	var out []*Event

	g, ctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		g.Go(func() error {
			c, err := p.conn(ctx, url)
			if err != nil {
				log.Debug().Str("module", "relay.pool").Str("relay", url).Err(err).Msg("query skip")
				return nil // a single unreachable relay does not fail the query
			}
			events, err := c.queryOnce(ctx, filters)
			if err != nil {
				return nil
			}
			mu.Lock()
			for _, ev := range events {
				if !seen[ev.ID] {
					seen[ev.ID] = true
					out = append(out, ev)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrQueryTimeout
	}
	return out, nil
}

// Subscribe fans the filters out to every default relay and merges
// their event streams. The merged channel closes once every feeding
// connection is gone, so a consumer observing the closure can
// resubscribe through a fresh dial.
func (p *Pool) Subscribe(ctx context.Context, filters ...Filter) (Subscription, error) {
	merged := make(chan *Event, 64)
	sub := &poolSub{events: merged, stop: make(chan struct{})}

	var feeding sync.WaitGroup
	var attached int
	for _, url := range p.defaultRelays {
		c, err := p.conn(ctx, url)
		if err != nil {
			log.Warn().Str("module", "relay.pool").Str("relay", url).Err(err).Msg("subscribe skip")
			continue
		}
		cs, err := c.subscribe(filters)
		if err != nil {
			continue
		}
		attached++
		sub.closers = append(sub.closers, cs.close)
		feeding.Add(1)
		go func(url string) {
			defer feeding.Done()
			for {
				select {
				case <-sub.stop:
					return
				case ev, ok := <-cs.events:
					if !ok {
						log.Debug().Str("module", "relay.pool").Str("relay", url).Msg("subscription feed lost")
						return
					}
					select {
					case merged <- ev:
					default:
						// slow consumer; presence is best-effort
					}
				}
			}
		}(url)
	}
	if attached == 0 {
		return nil, ErrNoRelays
	}
	go func() {
		feeding.Wait()
		close(merged)
	}()
	return sub, nil
}

// Close tears down every relay connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, c := range p.conns {
		c.shutdown()
		delete(p.conns, url)
	}
}

type poolSub struct {
	events  chan *Event
	stop    chan struct{}
	closers []func()
	once    sync.Once
}

func (s *poolSub) Events() <-chan *Event { return s.events }

func (s *poolSub) Close() {
	s.once.Do(func() {
		close(s.stop)
		for _, c := range s.closers {
			c()
		}
	})
}

// relayConn is one websocket connection with its active subscriptions.
type relayConn struct {
	url string
	ws  *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*connSub

	done     chan struct{}
	doneOnce sync.Once
}

type connSub struct {
	id     string
	events chan *Event
	eose   chan struct{}
	close  func()
}

func (c *relayConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *relayConn) shutdown() {
	c.doneOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
		c.mu.Lock()
		for id, s := range c.subs {
			close(s.events)
			delete(c.subs, id)
		}
		c.mu.Unlock()
	})
}

func (c *relayConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *relayConn) subscribe(filters []Filter) (*connSub, error) {
	id := uuid.NewString()
	req, err := encodeReq(id, filters)
	if err != nil {
		return nil, err
	}
	s := &connSub{
		id:     id,
		events: make(chan *Event, 64),
		eose:   make(chan struct{}, 1),
	}
	s.close = func() {
		c.mu.Lock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(s.events)
		}
		c.mu.Unlock()
		if cl, err := encodeClose(id); err == nil {
			_ = c.write(cl)
		}
	}
	c.mu.Lock()
	c.subs[id] = s
	c.mu.Unlock()
	if err := c.write(req); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// queryOnce collects stored events for the filters until EOSE or ctx end.
func (c *relayConn) queryOnce(ctx context.Context, filters []Filter) ([]*Event, error) {
	s, err := c.subscribe(filters)
	if err != nil {
		return nil, err
	}
	defer s.close()

	var out []*Event
	for {
		select {
		case <-ctx.Done():
			return out, nil
		case <-c.done:
			return out, nil
		case <-s.eose:
			return out, nil
		case ev, ok := <-s.events:
			if !ok {
				return out, nil
			}
			out = append(out, ev)
		}
	}
}

func (c *relayConn) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			log.Debug().Str("module", "relay.pool").Str("relay", c.url).Err(err).Msg("read loop ended")
			return
		}
		fr, err := decodeFrame(data)
		if err != nil {
			// malformed relay traffic is dropped, not escalated
			continue
		}
		// Deliveries are non-blocking and happen under the lock so a
		// concurrent close cannot race a send on a closed channel.
		switch fr.typ {
		case "EVENT":
			c.mu.Lock()
			if s, ok := c.subs[fr.sub]; ok {
				select {
				case s.events <- fr.event:
				default:
				}
			}
			c.mu.Unlock()
		case "EOSE", "CLOSED":
			c.mu.Lock()
			if s, ok := c.subs[fr.sub]; ok {
				select {
				case s.eose <- struct{}{}:
				default:
				}
			}
			c.mu.Unlock()
		}
	}
}
