package reliable

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/chillingspace/CSD2161-A4/internal/metrics"
	"github.com/chillingspace/CSD2161-A4/internal/protocol"
)

// ErrInvalidDelivery is returned for deliveries without a message or with
// non-positive timing
var ErrInvalidDelivery = errors.New("invalid delivery")

// Transport sends a datagram to a single peer
type Transport interface {
	Send(addr netip.AddrPort, data []byte) error
}

// Directory resolves session ids to addresses and evicts silent sessions
type Directory interface {
	Lookup(id uint8) (netip.AddrPort, bool)
	Evict(id uint8) bool
}

// Delivery describes one reliable message
type Delivery struct {
	Name          string // used for logs and metric labels
	Message       []byte
	AckCommand    protocol.ClientCommand
	Targets       []uint8
	RetryInterval time.Duration
	GiveUpAfter   time.Duration
}

// Result reports how each target was resolved
type Result struct {
	Acked    []uint8 // acknowledged the message
	Evicted  []uint8 // evicted by this delivery after GiveUpAfter
	Departed []uint8 // left or were evicted elsewhere before acknowledging
	TimedOut bool
	Attempts int
	Duration time.Duration
}

// Complete reports whether every target acknowledged
func (r Result) Complete() bool {
	return len(r.Evicted) == 0 && len(r.Departed) == 0 && !r.TimedOut
}

// Engine runs deliveries and routes acknowledgments to them
type Engine struct {
	transport Transport
	directory Directory
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	pending map[uint64]*delivery
	nextKey uint64
}

// delivery is the ack set of one in-flight Send
type delivery struct {
	ack     protocol.ClientCommand
	targets map[uint8]netip.AddrPort // address captured when the delivery began
	acked   map[uint8]bool
	notify  chan struct{}
}

// NewEngine creates an engine that sends through transport and evicts through directory
func NewEngine(transport Transport, directory Directory, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		transport: transport,
		directory: directory,
		logger:    logger,
		metrics:   m,
		pending:   make(map[uint64]*delivery),
	}
}

// Send transmits d.Message to every target and retransmits to the ones still
// missing every RetryInterval. It returns once all targets have acknowledged or
// departed, or after GiveUpAfter, when the remaining targets are evicted.
// The only error is the context's.
func (e *Engine) Send(ctx context.Context, d Delivery) (Result, error) {
	if len(d.Message) == 0 || d.RetryInterval <= 0 || d.GiveUpAfter <= 0 {
		return Result{}, ErrInvalidDelivery
	}

	start := time.Now()
	var result Result

	p := &delivery{
		ack:     d.AckCommand,
		targets: make(map[uint8]netip.AddrPort, len(d.Targets)),
		acked:   make(map[uint8]bool, len(d.Targets)),
		notify:  make(chan struct{}, 1),
	}
	for _, id := range d.Targets {
		if _, dup := p.targets[id]; dup {
			continue
		}
		addr, ok := e.directory.Lookup(id)
		if !ok {
			result.Departed = append(result.Departed, id)
			continue
		}
		p.targets[id] = addr
	}

	finish := func(outcome string) (Result, error) {
		result.Duration = time.Since(start)
		e.mu.Lock()
		for id := range p.acked {
			if _, live := p.targets[id]; live {
				result.Acked = append(result.Acked, id)
			}
		}
		e.mu.Unlock()
		sortIDs(result.Acked)
		sortIDs(result.Departed)
		sortIDs(result.Evicted)
		e.metrics.RecordDelivery(d.Name, outcome, result.Duration)
		return result, nil
	}

	if len(p.targets) == 0 {
		return finish("empty")
	}

	key := e.register(p)
	defer e.unregister(key)

	e.transmit(d, e.outstanding(p, &result))
	result.Attempts = 1

	retry := time.NewTicker(d.RetryInterval)
	defer retry.Stop()
	giveUp := time.NewTimer(d.GiveUpAfter)
	defer giveUp.Stop()

	for {
		missing := e.outstanding(p, &result)
		if len(missing) == 0 {
			return finish("complete")
		}

		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			return result, ctx.Err()

		case <-p.notify:

		case <-retry.C:
			e.transmit(d, missing)
			result.Attempts++
			for range missing {
				e.metrics.RecordRetransmission(d.Name)
			}

		case <-giveUp.C:
			missing = e.outstanding(p, &result)
			if len(missing) == 0 {
				return finish("complete")
			}
			result.TimedOut = true
			for id := range missing {
				if e.directory.Evict(id) {
					result.Evicted = append(result.Evicted, id)
				} else {
					result.Departed = append(result.Departed, id)
				}
				e.markResolved(p, id)
			}

			e.logger.Warn("Reliable delivery gave up",
				slog.String("message", d.Name),
				slog.Int("targets", len(p.targets)),
				slog.Int("evicted", len(result.Evicted)),
				slog.Int("attempts", result.Attempts),
			)
			return finish("timeout")
		}
	}
}

// Ack records an acknowledgment on every in-flight delivery of kind cmd that
// targets id, provided from is the address id had when that delivery began.
// It reports whether any delivery accepted the ack.
func (e *Engine) Ack(cmd protocol.ClientCommand, id uint8, from netip.AddrPort) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	accepted := false
	for _, p := range e.pending {
		if p.ack != cmd {
			continue
		}
		addr, targeted := p.targets[id]
		if !targeted || addr != from || p.acked[id] {
			continue
		}
		p.acked[id] = true
		accepted = true

		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return accepted
}

// Outstanding returns the number of deliveries in flight
func (e *Engine) Outstanding() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) register(p *delivery) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextKey++
	e.pending[e.nextKey] = p
	return e.nextKey
}

func (e *Engine) unregister(key uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, key)
}

// markResolved drops id from the delivery so late acks for it are ignored
func (e *Engine) markResolved(p *delivery, id uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(p.targets, id)
	delete(p.acked, id)
}

// outstanding returns the targets that have not acknowledged yet. Targets
// whose session is gone, or whose id now belongs to another address, move to
// result.Departed even if they had acknowledged. The directory is consulted
// without e.mu held.
func (e *Engine) outstanding(p *delivery, result *Result) map[uint8]netip.AddrPort {
	e.mu.Lock()
	targets := make(map[uint8]netip.AddrPort, len(p.targets))
	acked := make(map[uint8]bool, len(p.acked))
	for id, addr := range p.targets {
		targets[id] = addr
		acked[id] = p.acked[id]
	}
	e.mu.Unlock()

	missing := make(map[uint8]netip.AddrPort, len(targets))
	for id, addr := range targets {
		current, ok := e.directory.Lookup(id)
		if !ok || current != addr {
			result.Departed = append(result.Departed, id)
			e.markResolved(p, id)
			continue
		}
		if !acked[id] {
			missing[id] = addr
		}
	}
	return missing
}

func (e *Engine) transmit(d Delivery, targets map[uint8]netip.AddrPort) {
	for id, addr := range targets {
		if err := e.transport.Send(addr, d.Message); err != nil {
			e.logger.Warn("Failed to send reliable message",
				slog.String("message", d.Name),
				slog.Int("session_id", int(id)),
				slog.String("address", addr.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func sortIDs(ids []uint8) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
