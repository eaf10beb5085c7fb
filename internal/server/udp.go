package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chillingspace/CSD2161-A4/internal/config"
	"github.com/chillingspace/CSD2161-A4/internal/game"
	"github.com/chillingspace/CSD2161-A4/internal/highscore"
	"github.com/chillingspace/CSD2161-A4/internal/metrics"
	"github.com/chillingspace/CSD2161-A4/internal/protocol"
	"github.com/chillingspace/CSD2161-A4/internal/reliable"
	"github.com/chillingspace/CSD2161-A4/internal/session"
)

// readTimeout bounds how long the receive loop blocks before checking for shutdown
const readTimeout = 250 * time.Millisecond

// Server is the authoritative arena server. It owns the UDP socket and all
// shared game state.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	conn       *net.UDPConn
	sessions   *session.Table
	world      *game.World
	engine     *reliable.Engine
	tasks      *TaskPool
	scores     highscore.Store
	joins      *joinLimiter
	spectators *SpectatorHub

	ingress chan *incomingPacket

	// set while a START_GAME barrier is running
	starting atomic.Bool

	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped sync.Once

	startTime        time.Time
	packetsReceived  atomic.Uint64
	packetsProcessed atomic.Uint64
	packetsDropped   atomic.Uint64
	parseErrors      atomic.Uint64
	acksReceived     atomic.Uint64
}

// incomingPacket represents a received UDP datagram with metadata
type incomingPacket struct {
	data      []byte
	addr      netip.AddrPort
	timestamp time.Time
}

// NewServer wires the session table, world, reliable engine and task pool
// together. The socket is not opened until Start.
func NewServer(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, scores highscore.Store) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		metrics:   m,
		scores:    scores,
		sessions:  session.NewTable(logger, cfg.Server.MaxPlayers, cfg.Network.GetKeepAliveTimeout()),
		world:     game.NewWorld(WorldConfig(cfg), logger),
		tasks:     NewTaskPool(logger, m, cfg.Network.MaxPendingTasks, cfg.Network.MaxConcurrentTasks),
		joins:     newJoinLimiter(cfg.Network.JoinRatePerSecond, cfg.Network.JoinBurst),
		ingress:   make(chan *incomingPacket, cfg.Server.IngressQueueSize),
		startTime: time.Now(),
	}
	s.engine = reliable.NewEngine(s, sessionDirectory{s}, logger, m)
	s.spectators = NewSpectatorHub(logger, m, cfg.HTTP.MaxSpectators)
	return s
}

// WorldConfig translates the game sections of the configuration
func WorldConfig(cfg *config.Config) game.Config {
	return game.Config{
		Width:         cfg.Game.Width,
		Height:        cfg.Game.Height,
		StartLives:    cfg.Game.StartLives,
		ShipRadius:    cfg.Game.ShipRadius,
		BulletRadius:  cfg.Game.BulletRadius,
		Spawn:         game.Vec2{X: cfg.Game.SpawnX, Y: cfg.Game.SpawnY},
		SpawnRotation: cfg.Game.SpawnRotation,
		MatchDuration: cfg.Game.GetMatchDuration(),
		MaxTickDelta:  cfg.Game.GetMaxTickDelta(),

		AsteroidSpawnInterval: cfg.Asteroids.GetSpawnInterval(),
		MaxAsteroids:          cfg.Asteroids.MaxCount,
		AsteroidMinRadius:     cfg.Asteroids.MinRadius,
		AsteroidMaxRadius:     cfg.Asteroids.MaxRadius,
		AsteroidMinSpeed:      cfg.Asteroids.MinSpeed,
		AsteroidMaxSpeed:      cfg.Asteroids.MaxSpeed,

		BulletDedupWindow: uint32(cfg.Game.BulletDedupWindow),
		MaxPacketSize:     cfg.Server.BufferSize,
	}
}

// Start binds the UDP socket and launches the receive, dispatch, tick, sweep
// and task loops
func (s *Server) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.Server.BindAddress, s.config.Server.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.Server.BufferSize * s.config.Server.IngressQueueSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.Server.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error { return s.receiveLoop(gctx) })
	g.Go(func() error { return s.dispatchLoop(gctx) })
	g.Go(func() error { return s.tickLoop(gctx) })
	g.Go(func() error { return s.sweepLoop(gctx) })
	g.Go(func() error { return s.tasks.Run(gctx) })

	s.logger.Info("UDP server started",
		slog.String("address", s.Addr().String()),
		slog.Int("buffer_size", s.config.Server.BufferSize),
		slog.Int("max_players", s.config.Server.MaxPlayers),
		slog.Int("tick_rate", s.config.Game.TickRate),
	)

	return nil
}

// Stop cancels every loop, waits for them and closes the socket
func (s *Server) Stop() error {
	var err error
	s.stopped.Do(func() {
		s.logger.Info("Stopping UDP server...")

		if s.cancel != nil {
			s.cancel()
		}
		if s.group != nil {
			err = s.group.Wait()
		}
		s.spectators.Close()
		if s.conn != nil {
			if cerr := s.conn.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}

		stats := s.Statistics()
		s.logger.Info("UDP server stopped",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("parse_errors", stats.ParseErrors),
		)
	})
	return err
}

// Addr returns the bound socket address
func (s *Server) Addr() netip.AddrPort {
	if s.conn == nil {
		return netip.AddrPort{}
	}
	if udpAddr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return udpAddr.AddrPort()
	}
	return netip.AddrPort{}
}

// Send writes one datagram to addr
func (s *Server) Send(addr netip.AddrPort, data []byte) error {
	_, err := s.conn.WriteToUDPAddrPort(data, addr)
	s.metrics.RecordPacketSent(err)
	if err != nil {
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	return nil
}

// send logs a failed unicast instead of returning it
func (s *Server) send(addr netip.AddrPort, data []byte) {
	if err := s.Send(addr, data); err != nil {
		s.logger.Warn("Failed to send packet",
			slog.String("remote_addr", addr.String()),
			slog.String("error", err.Error()),
		)
	}
}

// receiveLoop reads datagrams, hands acks to the reliable engine and queues
// everything else for the dispatcher
func (s *Server) receiveLoop(ctx context.Context) error {
	buffer := make([]byte, s.config.Server.BufferSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, addr, err := s.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("UDP socket closed: %w", err)
			}
			s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
			continue
		}

		s.packetsReceived.Add(1)
		addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())

		cmd, err := protocol.PeekCommand(buffer[:n])
		if err != nil {
			s.recordParseError(addr, n, err)
			continue
		}
		s.metrics.RecordPacketReceived(cmd.String())

		if cmd.IsAck() {
			s.handleAck(buffer[:n], addr)
			continue
		}

		packet := &incomingPacket{
			data:      append([]byte(nil), buffer[:n]...),
			addr:      addr,
			timestamp: time.Now(),
		}

		select {
		case s.ingress <- packet:
		default:
			s.packetsDropped.Add(1)
			s.metrics.RecordPacketDropped()
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", addr.String()),
				slog.String("command", cmd.String()),
				slog.Int("packet_size", n),
			)
		}
		s.metrics.SetQueueSize(len(s.ingress))
	}
}

// handleAck records an acknowledgment against outstanding deliveries
func (s *Server) handleAck(data []byte, addr netip.AddrPort) {
	ack, err := protocol.DecodeSessionAck(data)
	if err != nil {
		s.recordParseError(addr, len(data), err)
		return
	}

	s.packetsProcessed.Add(1)
	if !s.engine.Ack(ack.Command, ack.SessionID, addr) {
		s.metrics.RecordProtocolViolation("stale_ack")
		s.logger.Debug("Ignoring stale acknowledgment",
			slog.String("command", ack.Command.String()),
			slog.Int("session_id", int(ack.SessionID)),
			slog.String("remote_addr", addr.String()),
		)
		return
	}
	s.acksReceived.Add(1)
}

func (s *Server) recordParseError(addr netip.AddrPort, size int, err error) {
	s.parseErrors.Add(1)
	s.metrics.RecordParseError()
	s.logger.Debug("Failed to parse packet",
		slog.String("remote_addr", addr.String()),
		slog.Int("packet_size", size),
		slog.String("error", err.Error()),
	)
}

// dispatchLoop drains the ingress queue every dispatch interval
func (s *Server) dispatchLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Network.GetDispatchInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.drainIngress()
		}
	}
}

// drainIngress handles every packet queued when it was called
func (s *Server) drainIngress() {
	for pending := len(s.ingress); pending > 0; pending-- {
		select {
		case packet := <-s.ingress:
			s.handlePacket(packet)
		default:
			return
		}
	}
	s.metrics.SetQueueSize(len(s.ingress))
}

// tickLoop advances the simulation at the configured rate
func (s *Server) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Game.GetTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick runs one simulation step and broadcasts its snapshot once the world
// lock has been released
func (s *Server) tick(now time.Time) {
	started := time.Now()
	result := s.world.Tick(now)

	if result.Broadcast != nil {
		for _, addr := range s.sessions.Addresses() {
			s.send(addr, result.Broadcast)
		}
		s.spectators.Broadcast(result.Broadcast)

		stats := result.Stats
		s.metrics.RecordTick(time.Since(started), stats.Ships, stats.Bullets, stats.Asteroids)
		s.metrics.RecordCollisions(stats.AsteroidsDestroyed, stats.ShipHits)
	}

	if result.Outcome != nil {
		outcome := *result.Outcome
		if err := s.tasks.Submit("end_game", func(ctx context.Context) error {
			return s.endMatch(ctx, outcome)
		}); err != nil {
			s.logger.Error("Failed to schedule match end, finishing without END_GAME",
				slog.String("match_id", outcome.MatchID.String()),
				slog.String("error", err.Error()),
			)
			s.world.FinishMatch()
		}
	}
}

// sweepLoop evicts sessions whose keep-alives stopped
func (s *Server) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Network.GetKeepAliveSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			expired := s.sessions.Sweep(now, s.removeShip)
			for _, sess := range expired {
				s.metrics.RecordSessionEvicted("keepalive", now.Sub(sess.JoinedAt), s.sessions.Count())
			}
			// limiter entries outlive a session by one keep-alive timeout
			s.joins.Prune(now.Add(-s.config.Network.GetKeepAliveTimeout()))
		}
	}
}

// evict removes a session and its ship. It runs on the reliable engine's
// give-up path.
func (s *Server) evict(id uint8, reason string) bool {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return false
	}
	if !s.sessions.Evict(id, s.removeShip) {
		return false
	}
	s.metrics.RecordSessionEvicted(reason, time.Since(sess.JoinedAt), s.sessions.Count())
	return true
}

// removeShip is the eviction callback; it runs with the session table locked
func (s *Server) removeShip(id uint8) {
	s.world.RemoveShip(id)
}

// sessionDirectory exposes the session table to the reliable engine
type sessionDirectory struct {
	server *Server
}

func (d sessionDirectory) Lookup(id uint8) (netip.AddrPort, bool) {
	return d.server.sessions.Lookup(id)
}

func (d sessionDirectory) Evict(id uint8) bool {
	return d.server.evict(id, "ack_timeout")
}

// Statistics returns current server statistics
func (s *Server) Statistics() ServerStatistics {
	return ServerStatistics{
		Uptime:            time.Since(s.startTime).Round(time.Second).String(),
		PacketsReceived:   s.packetsReceived.Load(),
		PacketsProcessed:  s.packetsProcessed.Load(),
		PacketsDropped:    s.packetsDropped.Load(),
		ParseErrors:       s.parseErrors.Load(),
		AcksReceived:      s.acksReceived.Load(),
		ActiveSessions:    s.sessions.Count(),
		MaxSessions:       s.sessions.Capacity(),
		QueueSize:         len(s.ingress),
		QueueCapacity:     cap(s.ingress),
		PendingDeliveries: s.engine.Outstanding(),
		Spectators:        s.spectators.Count(),
		Tasks:             s.tasks.Statistics(),
	}
}

// ServerStatistics represents server performance counters
type ServerStatistics struct {
	Uptime            string             `json:"uptime"`
	PacketsReceived   uint64             `json:"packets_received"`
	PacketsProcessed  uint64             `json:"packets_processed"`
	PacketsDropped    uint64             `json:"packets_dropped"`
	ParseErrors       uint64             `json:"parse_errors"`
	AcksReceived      uint64             `json:"acks_received"`
	ActiveSessions    int                `json:"active_sessions"`
	MaxSessions       int                `json:"max_sessions"`
	QueueSize         int                `json:"queue_size"`
	QueueCapacity     int                `json:"queue_capacity"`
	PendingDeliveries int                `json:"pending_deliveries"`
	Spectators        int                `json:"spectators"`
	Tasks             TaskPoolStatistics `json:"tasks"`
}
