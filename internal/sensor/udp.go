package sensor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/vrtrack/internal/monitoring"
)

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address     string
	RcvBuf      int
	LogInterval time.Duration
	Sink        PoseSink
}

// UDPListener receives pose packets on a UDP socket.
type UDPListener struct {
	address     string
	rcvBuf      int
	logInterval time.Duration
	sink        PoseSink
	conn        *net.UDPConn

	Stats Stats
}

// NewUDPListener creates a listener; call Listen then Serve, or Start.
func NewUDPListener(cfg UDPListenerConfig) *UDPListener {
	logInterval := cfg.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}
	return &UDPListener{
		address:     cfg.Address,
		rcvBuf:      cfg.RcvBuf,
		logInterval: logInterval,
		sink:        cfg.Sink,
	}
}

// Listen binds the socket.
func (l *UDPListener) Listen() error {
	if l.sink == nil {
		return errors.New("udp listener has no pose sink")
	}
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			monitoring.Logf("[Sensor] failed to set UDP receive buffer to %d: %v", l.rcvBuf, err)
		}
	}
	l.conn = conn
	monitoring.Logf("[Sensor] UDP listener bound to %s", conn.LocalAddr())
	return nil
}

// LocalAddr returns the bound address, or nil before Listen.
func (l *UDPListener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start binds and serves until ctx is cancelled.
func (l *UDPListener) Start(ctx context.Context) error {
	if err := l.Listen(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

// Serve reads packets until ctx is cancelled, then closes the socket.
func (l *UDPListener) Serve(ctx context.Context) error {
	if l.conn == nil {
		return errors.New("udp listener not bound")
	}
	conn := l.conn
	defer conn.Close()

	go l.logStats(ctx)

	buffer := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[Sensor] UDP listener stopping")
			return ctx.Err()
		default:
		}

		// A short deadline lets the loop notice cancellation.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			monitoring.Logf("[Sensor] UDP read error: %v", err)
			continue
		}

		if err := deliver(l.sink, &l.Stats, buffer[:n]); err != nil {
			monitoring.Logf("[Sensor] dropping packet from %v: %v", addr, err)
		}
	}
}

func (l *UDPListener) logStats(ctx context.Context) {
	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Stats.LogStats("udp")
		}
	}
}
