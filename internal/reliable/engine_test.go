package reliable

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chillingspace/CSD2161-A4/internal/metrics"
	"github.com/chillingspace/CSD2161-A4/internal/protocol"
)

// fakeNetwork implements both Transport and Directory
type fakeNetwork struct {
	mu       sync.Mutex
	sessions map[uint8]netip.AddrPort
	sends    map[netip.AddrPort]int
	evicted  []uint8
	onSend   func(addr netip.AddrPort)
}

func newFakeNetwork(ids ...uint8) *fakeNetwork {
	n := &fakeNetwork{
		sessions: make(map[uint8]netip.AddrPort),
		sends:    make(map[netip.AddrPort]int),
	}
	for _, id := range ids {
		n.sessions[id] = peer(id)
	}
	return n
}

func peer(id uint8) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), 7000+uint16(id))
}

func (n *fakeNetwork) Send(addr netip.AddrPort, data []byte) error {
	n.mu.Lock()
	n.sends[addr]++
	hook := n.onSend
	n.mu.Unlock()

	if hook != nil {
		hook(addr)
	}
	return nil
}

func (n *fakeNetwork) Lookup(id uint8) (netip.AddrPort, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	addr, ok := n.sessions[id]
	return addr, ok
}

func (n *fakeNetwork) Evict(id uint8) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sessions[id]; !ok {
		return false
	}
	delete(n.sessions, id)
	n.evicted = append(n.evicted, id)
	return true
}

func (n *fakeNetwork) remove(id uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, id)
}

func (n *fakeNetwork) sendCount(addr netip.AddrPort) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends[addr]
}

func newTestEngine(n *fakeNetwork) *Engine {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewEngine(n, n, logger, metrics.NewMetrics(prometheus.NewRegistry()))
}

func testDelivery(targets ...uint8) Delivery {
	return Delivery{
		Name:          "START_GAME",
		Message:       []byte{byte(protocol.CmdStartGame), 0},
		AckCommand:    protocol.CmdAckStartGame,
		Targets:       targets,
		RetryInterval: 5 * time.Millisecond,
		GiveUpAfter:   300 * time.Millisecond,
	}
}

func TestSendAllAcked(t *testing.T) {
	n := newFakeNetwork(0, 1)
	engine := newTestEngine(n)

	n.onSend = func(addr netip.AddrPort) {
		id := uint8(addr.Port() - 7000)
		go engine.Ack(protocol.CmdAckStartGame, id, addr)
	}

	result, err := engine.Send(context.Background(), testDelivery(0, 1))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !result.Complete() {
		t.Errorf("Expected complete delivery, got %+v", result)
	}
	if len(result.Acked) != 2 || result.Acked[0] != 0 || result.Acked[1] != 1 {
		t.Errorf("Expected acks from 0 and 1, got %v", result.Acked)
	}
	if len(n.evicted) != 0 {
		t.Errorf("No session should be evicted, got %v", n.evicted)
	}
	if engine.Outstanding() != 0 {
		t.Errorf("Ack set must be discarded, %d deliveries still pending", engine.Outstanding())
	}
}

func TestSendRetransmitsThenEvicts(t *testing.T) {
	n := newFakeNetwork(0, 1)
	engine := newTestEngine(n)

	// only session 0 ever answers
	n.onSend = func(addr netip.AddrPort) {
		if addr == peer(0) {
			go engine.Ack(protocol.CmdAckStartGame, 0, addr)
		}
	}

	d := testDelivery(0, 1)
	d.GiveUpAfter = 60 * time.Millisecond

	result, err := engine.Send(context.Background(), d)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !result.TimedOut {
		t.Error("Expected the delivery to time out")
	}
	if len(result.Evicted) != 1 || result.Evicted[0] != 1 {
		t.Errorf("Expected session 1 evicted, got %v", result.Evicted)
	}
	if len(result.Acked) != 1 || result.Acked[0] != 0 {
		t.Errorf("Expected ack from session 0, got %v", result.Acked)
	}
	if got := n.sendCount(peer(1)); got < 2 {
		t.Errorf("Expected retransmissions to the silent peer, got %d sends", got)
	}
	if _, ok := n.Lookup(1); ok {
		t.Error("Silent session must be evicted through the directory")
	}
}

func TestSendIgnoresStaleAck(t *testing.T) {
	n := newFakeNetwork(0)
	engine := newTestEngine(n)

	stranger := netip.AddrPortFrom(netip.MustParseAddr("10.0.0.9"), 9999)
	accepted := make(chan bool, 64)
	n.onSend = func(netip.AddrPort) {
		go func() { accepted <- engine.Ack(protocol.CmdAckStartGame, 0, stranger) }()
	}

	d := testDelivery(0)
	d.GiveUpAfter = 40 * time.Millisecond

	result, err := engine.Send(context.Background(), d)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.TimedOut || len(result.Evicted) != 1 {
		t.Errorf("Ack from the wrong address must not count, got %+v", result)
	}

	n.stopHooks()
	for ok := range drain(accepted) {
		if ok {
			t.Error("Ack from the wrong address was accepted")
		}
	}
}

func TestSendCompletesWhenTargetLeaves(t *testing.T) {
	n := newFakeNetwork(0, 1)
	engine := newTestEngine(n)

	n.onSend = func(addr netip.AddrPort) {
		if addr == peer(0) {
			go engine.Ack(protocol.CmdAckStartGame, 0, addr)
		}
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		n.remove(1) // swept by keep-alive elsewhere
	}()

	d := testDelivery(0, 1)
	d.GiveUpAfter = 5 * time.Second

	start := time.Now()
	result, err := engine.Send(context.Background(), d)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Barrier should finish once the silent target is gone, took %v", elapsed)
	}
	if result.TimedOut {
		t.Error("Delivery must not time out when the target departs")
	}
	if len(result.Departed) != 1 || result.Departed[0] != 1 {
		t.Errorf("Expected session 1 departed, got %v", result.Departed)
	}
	if len(n.evicted) != 0 {
		t.Errorf("Delivery must not evict a departed target, got %v", n.evicted)
	}
}

func TestSendIDReusedByNewPeer(t *testing.T) {
	n := newFakeNetwork(0)
	engine := newTestEngine(n)

	go func() {
		time.Sleep(15 * time.Millisecond)
		n.mu.Lock()
		n.sessions[0] = netip.AddrPortFrom(netip.MustParseAddr("127.0.0.2"), 8000)
		n.mu.Unlock()
	}()

	d := testDelivery(0)
	d.GiveUpAfter = 5 * time.Second

	result, err := engine.Send(context.Background(), d)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(result.Departed) != 1 || len(result.Evicted) != 0 {
		t.Errorf("Reused id must resolve as departed without eviction, got %+v", result)
	}
	if _, ok := n.Lookup(0); !ok {
		t.Error("The new owner of the id must not be evicted")
	}
}

func TestSendUnknownTargets(t *testing.T) {
	n := newFakeNetwork()
	engine := newTestEngine(n)

	result, err := engine.Send(context.Background(), testDelivery(3))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(result.Departed) != 1 || result.Attempts != 0 {
		t.Errorf("Expected immediate resolution, got %+v", result)
	}
}

func TestSendInvalidDelivery(t *testing.T) {
	engine := newTestEngine(newFakeNetwork(0))

	tests := []struct {
		name   string
		mutate func(*Delivery)
	}{
		{"empty message", func(d *Delivery) { d.Message = nil }},
		{"zero retry", func(d *Delivery) { d.RetryInterval = 0 }},
		{"zero give up", func(d *Delivery) { d.GiveUpAfter = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDelivery(0)
			tt.mutate(&d)
			if _, err := engine.Send(context.Background(), d); !errors.Is(err, ErrInvalidDelivery) {
				t.Errorf("Expected ErrInvalidDelivery, got %v", err)
			}
		})
	}
}

func TestSendContextCancelled(t *testing.T) {
	n := newFakeNetwork(0)
	engine := newTestEngine(n)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	d := testDelivery(0)
	d.GiveUpAfter = 5 * time.Second

	_, err := engine.Send(ctx, d)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if len(n.evicted) != 0 {
		t.Error("Cancelled delivery must not evict")
	}
	if engine.Outstanding() != 0 {
		t.Error("Cancelled delivery must unregister its ack set")
	}
}

func TestAckWithoutDelivery(t *testing.T) {
	engine := newTestEngine(newFakeNetwork(0))
	if engine.Ack(protocol.CmdAckEndGame, 0, peer(0)) {
		t.Error("Ack with nothing in flight must be ignored")
	}
}

func TestAckRoutedByCommand(t *testing.T) {
	n := newFakeNetwork(0)
	engine := newTestEngine(n)

	wrongKind := make(chan bool, 64)
	n.onSend = func(addr netip.AddrPort) {
		go func() {
			wrongKind <- engine.Ack(protocol.CmdAckEndGame, 0, addr)
			engine.Ack(protocol.CmdAckStartGame, 0, addr)
		}()
	}

	result, err := engine.Send(context.Background(), testDelivery(0))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.Complete() {
		t.Errorf("Expected completion, got %+v", result)
	}

	n.stopHooks()
	for ok := range drain(wrongKind) {
		if ok {
			t.Error("ACK_END_GAME must not resolve a START_GAME delivery")
		}
	}
}

func (n *fakeNetwork) stopHooks() {
	n.mu.Lock()
	n.onSend = nil
	n.mu.Unlock()
}

// drain collects whatever the hook goroutines reported within a short window
func drain(results chan bool) chan bool {
	out := make(chan bool, cap(results))
	timeout := time.After(50 * time.Millisecond)
	go func() {
		defer close(out)
		for {
			select {
			case v := <-results:
				out <- v
			case <-timeout:
				return
			}
		}
	}()
	return out
}
