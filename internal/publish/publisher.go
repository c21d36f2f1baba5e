// Package publish fans frame snapshots out to consumers outside the frame
// path: gRPC streams and the debug WebSocket tail.
package publish

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vrtrack/internal/frame"
	"github.com/banshee-data/vrtrack/internal/monitoring"
)

// Config sizes the publisher's queues.
type Config struct {
	// QueueDepth is the number of frames buffered between the frame path
	// and the broadcast loop.
	QueueDepth int
	// ClientDepth is the per-subscriber buffer.
	ClientDepth int
	// MaxClients caps concurrent subscribers. Zero means no cap.
	MaxClients int
}

// DefaultConfig returns the default queue sizes.
func DefaultConfig() Config {
	return Config{
		QueueDepth:  100,
		ClientDepth: 10,
		MaxClients:  8,
	}
}

type subscriber struct {
	id      string
	frameCh chan *frame.Snapshot
}

// Publisher implements frame.HostSink. PushFrame never blocks: frames are
// dropped when the queue is full, and slow subscribers miss frames rather
// than hold up the others.
type Publisher struct {
	config Config

	frameChan chan *frame.Snapshot
	clients   map[string]*subscriber
	clientsMu sync.RWMutex

	frameCount    atomic.Uint64
	clientCount   atomic.Int32
	droppedFrames atomic.Uint64
	lastStatsTime time.Time
	lastStatsMu   sync.Mutex

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

var _ frame.HostSink = (*Publisher)(nil)

// NewPublisher creates a stopped Publisher.
func NewPublisher(cfg Config) *Publisher {
	d := DefaultConfig()
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = d.QueueDepth
	}
	if cfg.ClientDepth <= 0 {
		cfg.ClientDepth = d.ClientDepth
	}
	return &Publisher{
		config:    cfg,
		frameChan: make(chan *frame.Snapshot, cfg.QueueDepth),
		clients:   make(map[string]*subscriber),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the broadcast loop.
func (p *Publisher) Start() error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("publisher already running")
	}
	p.wg.Add(1)
	go p.broadcastLoop()
	return nil
}

// Stop ends the broadcast loop and closes every subscriber channel.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()

	p.clientsMu.Lock()
	for id, c := range p.clients {
		close(c.frameCh)
		delete(p.clients, id)
	}
	p.clientCount.Store(0)
	p.clientsMu.Unlock()
	monitoring.Logf("[Publisher] stopped after %d frames (%d dropped)", p.frameCount.Load(), p.droppedFrames.Load())
}

// PushFrame queues a snapshot for broadcast.
func (p *Publisher) PushFrame(snap *frame.Snapshot) {
	if snap == nil || !p.running.Load() {
		return
	}
	select {
	case p.frameChan <- snap:
		p.logPeriodicStats(p.frameCount.Add(1))
	default:
		p.droppedFrames.Add(1)
	}
}

func (p *Publisher) logPeriodicStats(count uint64) {
	p.lastStatsMu.Lock()
	defer p.lastStatsMu.Unlock()
	now := time.Now()
	if p.lastStatsTime.IsZero() {
		p.lastStatsTime = now
		return
	}
	if now.Sub(p.lastStatsTime) >= 30*time.Second {
		monitoring.Logf("[Publisher] frames=%d dropped=%d clients=%d queue=%d/%d",
			count, p.droppedFrames.Load(), p.clientCount.Load(), len(p.frameChan), cap(p.frameChan))
		p.lastStatsTime = now
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case snap := <-p.frameChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.frameCh <- snap:
				default:
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// Subscribe registers a consumer. The returned channel is closed by the
// cancel function or by Stop.
func (p *Publisher) Subscribe() (<-chan *frame.Snapshot, func(), error) {
	if !p.running.Load() {
		return nil, nil, fmt.Errorf("publisher not running")
	}

	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		return nil, nil, fmt.Errorf("too many clients (max %d)", p.config.MaxClients)
	}
	c := &subscriber{
		id:      uuid.NewString(),
		frameCh: make(chan *frame.Snapshot, p.config.ClientDepth),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	monitoring.Logf("[Publisher] client %s connected (total: %d)", c.id, n)

	return c.frameCh, func() { p.unsubscribe(c.id) }, nil
}

func (p *Publisher) unsubscribe(id string) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	c, ok := p.clients[id]
	if !ok {
		return
	}
	close(c.frameCh)
	delete(p.clients, id)
	n := p.clientCount.Add(-1)
	monitoring.Logf("[Publisher] client %s disconnected (remaining: %d)", id, n)
}

// Stats is a point-in-time view of publisher counters.
type Stats struct {
	FrameCount    uint64 `json:"frame_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	ClientCount   int32  `json:"client_count"`
	Running       bool   `json:"running"`
}

// Stats returns the current counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}
