package sse

import "sync"

// Broadcaster fans one delta stream out to multiple subscribers. Every
// subscriber has its own unbounded queue drained by its own goroutine, so a
// slow consumer (a client on a bad link) never delays a fast one (the
// persistence accumulator), and vice versa.
type Broadcaster struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
}

type subscriber struct {
	mu       sync.Mutex
	queue    []string
	closed   bool
	wake     chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	out      chan string
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe registers a consumer. The channel closes once the broadcaster is
// closed and the subscriber's queue has drained. cancel detaches the
// subscriber early (client navigated away); it is safe to call more than
// once and after the channel closed.
func (b *Broadcaster) Subscribe() (ch <-chan string, cancel func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		out:  make(chan string),
	}
	go s.pump()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
	} else {
		b.subs = append(b.subs, s)
	}
	return s.out, s.cancelFn
}

// Publish appends one delta to every subscriber's queue. It never blocks.
func (b *Broadcaster) Publish(delta string) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(delta)
	}
}

// Close marks the stream complete. Subscribers receive everything already
// published, then their channels close.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

func (s *subscriber) enqueue(delta string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, delta)
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) cancelFn() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *subscriber) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued deltas to the out channel. The queue is unbounded, which
// is safe here: one assistant reply bounds the total volume.
func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		queue := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, delta := range queue {
			select {
			case s.out <- delta:
			case <-s.quit:
				close(s.out)
				return
			}
		}

		if closed {
			// One last sweep: enqueue may have raced with close.
			s.mu.Lock()
			rest := s.queue
			s.queue = nil
			s.mu.Unlock()
		drain:
			for _, delta := range rest {
				select {
				case s.out <- delta:
				case <-s.quit:
					break drain
				}
			}
			close(s.out)
			return
		}

		select {
		case <-s.wake:
		case <-s.quit:
			close(s.out)
			return
		}
	}
}
