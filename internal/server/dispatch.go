package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/chillingspace/CSD2161-A4/internal/game"
	"github.com/chillingspace/CSD2161-A4/internal/highscore"
	"github.com/chillingspace/CSD2161-A4/internal/protocol"
	"github.com/chillingspace/CSD2161-A4/internal/reliable"
	"github.com/chillingspace/CSD2161-A4/internal/session"
)

// handlePacket processes a single queued datagram
func (s *Server) handlePacket(packet *incomingPacket) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.recordParseError(packet.addr, len(packet.data), err)
		return
	}
	s.packetsProcessed.Add(1)

	switch parsed.Command {
	case protocol.CmdConnRequest:
		s.handleJoin(packet.addr, parsed.ConnRequest, packet.timestamp)
	case protocol.CmdReqStartGame:
		s.handleStartRequest(packet.addr)
	case protocol.CmdSelfSpaceship:
		s.handleSpaceship(packet.addr, parsed.Spaceship)
	case protocol.CmdNewBullet:
		s.handleBullet(packet.addr, parsed.Bullet)
	case protocol.CmdKeepAlive:
		s.handleKeepAlive(packet.addr, parsed.Ack)
	default:
		// acks are consumed by the receive loop
		s.logger.Debug("Unexpected command in dispatcher",
			slog.String("command", parsed.Command.String()),
			slog.String("remote_addr", packet.addr.String()),
		)
	}
}

// handleJoin admits a new player or answers CONN_REJECTED. A request from an
// address that already has a session is ignored while its handshake retries.
func (s *Server) handleJoin(addr netip.AddrPort, req *protocol.ConnRequest, received time.Time) {
	if !s.joins.Allow(addr, received) {
		s.metrics.RecordSessionRejected("rate_limited")
		s.logger.Debug("Join rate limit exceeded", slog.String("remote_addr", addr.String()))
		return
	}

	if existing, ok := s.sessions.LookupByAddr(addr); ok {
		s.logger.Debug("Ignoring repeated join request",
			slog.Int("session_id", int(existing.ID)),
			slog.String("remote_addr", addr.String()),
		)
		return
	}

	sess, err := s.sessions.Admit(req.Name, addr, func(id uint8) error {
		// the START_GAME roster is already fixed
		if s.starting.Load() {
			return fmt.Errorf("%w: match is starting", game.ErrMatchInProgress)
		}
		return s.world.AddShip(id, req.Name)
	})
	if err != nil {
		if errors.Is(err, session.ErrAddressInUse) {
			return
		}
		reason := rejectReason(err)
		s.metrics.RecordSessionRejected(reason)
		s.logger.Info("Join request rejected",
			slog.String("name", req.Name),
			slog.String("remote_addr", addr.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		s.send(addr, protocol.EncodeConnRejected())
		return
	}
	s.metrics.RecordSessionAdmitted(s.sessions.Count())

	worldCfg := s.world.Config()
	accepted := &protocol.ConnAccepted{
		SessionID: sess.ID,
		SpawnX:    worldCfg.Spawn.X,
		SpawnY:    worldCfg.Spawn.Y,
		Rotation:  worldCfg.SpawnRotation,
	}
	msg, err := accepted.Encode()
	if err != nil {
		s.logger.Error("Failed to encode CONN_ACCEPTED", slog.String("error", err.Error()))
		return
	}

	delivery := s.delivery("conn_accepted", msg, protocol.CmdAckConnRequest, []uint8{sess.ID})
	if err := s.tasks.Submit(delivery.Name, func(ctx context.Context) error {
		result, err := s.engine.Send(ctx, delivery)
		if err != nil {
			return err
		}
		if !result.Complete() {
			s.logger.Info("Join handshake abandoned",
				slog.Int("session_id", int(sess.ID)),
				slog.Int("attempts", result.Attempts),
			)
		}
		return nil
	}); err != nil {
		// without a handshake the client never learns its id
		s.logger.Warn("Failed to schedule join handshake",
			slog.Int("session_id", int(sess.ID)),
			slog.String("error", err.Error()),
		)
		s.evict(sess.ID, "overloaded")
		s.send(addr, protocol.EncodeConnRejected())
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, session.ErrTableFull):
		return "table_full"
	case errors.Is(err, game.ErrMatchInProgress):
		return "match_in_progress"
	case errors.Is(err, session.ErrEmptyName), errors.Is(err, session.ErrNameTooLong):
		return "invalid_name"
	default:
		return "other"
	}
}

// handleKeepAlive refreshes the session's liveness
func (s *Server) handleKeepAlive(addr netip.AddrPort, ack *protocol.SessionAck) {
	if !s.sessions.Touch(ack.SessionID, addr) {
		s.violation("unknown_session", ack.SessionID, addr)
	}
}

// handleSpaceship applies a steering update from the ship's owner
func (s *Server) handleSpaceship(addr netip.AddrPort, msg *protocol.SelfSpaceship) {
	if !s.owns(msg.SessionID, addr) {
		s.violation("unknown_session", msg.SessionID, addr)
		return
	}

	if !s.world.SteerShip(msg.SessionID, game.Vec2{X: msg.VelX, Y: msg.VelY}, msg.Rotation) {
		s.logger.Debug("Ignoring steering for inactive ship", slog.Int("session_id", int(msg.SessionID)))
	}
}

// handleBullet creates the bullet at most once and always acknowledges it so
// the client stops retransmitting
func (s *Server) handleBullet(addr netip.AddrPort, msg *protocol.NewBullet) {
	if !s.owns(msg.SessionID, addr) {
		s.violation("unknown_session", msg.SessionID, addr)
		return
	}

	created, err := s.world.FireBullet(msg.SessionID, msg.BulletID,
		game.Vec2{X: msg.PosX, Y: msg.PosY},
		game.Vec2{X: msg.VelX, Y: msg.VelY},
	)
	if err != nil {
		s.logger.Debug("Bullet refused",
			slog.Int("session_id", int(msg.SessionID)),
			slog.Uint64("bullet_id", uint64(msg.BulletID)),
			slog.String("error", err.Error()),
		)
	} else {
		s.metrics.RecordBullet(created)
	}

	ack, err := (&protocol.AckNewBullet{BulletID: msg.BulletID}).Encode()
	if err != nil {
		s.logger.Error("Failed to encode ACK_NEW_BULLET", slog.String("error", err.Error()))
		return
	}
	s.send(addr, ack)
}

// handleStartRequest runs the START_GAME barrier unless a match is already
// under way or starting
func (s *Server) handleStartRequest(addr netip.AddrPort) {
	requester, ok := s.sessions.LookupByAddr(addr)
	if !ok {
		s.metrics.RecordProtocolViolation("unknown_session")
		s.logger.Debug("Start request from unknown address", slog.String("remote_addr", addr.String()))
		return
	}

	if phase := s.world.Phase(); phase != game.PhaseIdle {
		s.logger.Debug("Ignoring start request",
			slog.Int("session_id", int(requester.ID)),
			slog.String("phase", phase.String()),
		)
		return
	}

	if !s.starting.CompareAndSwap(false, true) {
		s.logger.Debug("Start barrier already in flight", slog.Int("session_id", int(requester.ID)))
		return
	}

	sessions := s.sessions.List()
	players := make([]protocol.PlayerInfo, 0, len(sessions))
	targets := make([]uint8, 0, len(sessions))
	for _, sess := range sessions {
		players = append(players, protocol.PlayerInfo{SessionID: sess.ID, Name: sess.Name})
		targets = append(targets, sess.ID)
	}

	msg, err := (&protocol.StartGame{Players: players}).Encode()
	if err != nil {
		s.starting.Store(false)
		s.logger.Error("Failed to encode START_GAME", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("Match start requested",
		slog.Int("session_id", int(requester.ID)),
		slog.Int("players", len(players)),
	)

	delivery := s.delivery("start_game", msg, protocol.CmdAckStartGame, targets)
	if err := s.tasks.Submit(delivery.Name, func(ctx context.Context) error {
		defer s.starting.Store(false)
		return s.startMatch(ctx, delivery)
	}); err != nil {
		s.starting.Store(false)
		s.logger.Warn("Failed to schedule match start", slog.String("error", err.Error()))
	}
}

// startMatch waits for every player to acknowledge START_GAME, then starts the
// simulation
func (s *Server) startMatch(ctx context.Context, delivery reliable.Delivery) error {
	result, err := s.engine.Send(ctx, delivery)
	if err != nil {
		return err
	}

	if s.sessions.Count() == 0 {
		s.logger.Info("Every player left before the match started")
		return nil
	}

	matchID, err := s.world.StartMatch(time.Now())
	if err != nil {
		return fmt.Errorf("failed to start match: %w", err)
	}
	s.metrics.RecordMatchStarted()

	s.logger.Info("Start barrier complete",
		slog.String("match_id", matchID.String()),
		slog.Int("acked", len(result.Acked)),
		slog.Int("evicted", len(result.Evicted)),
		slog.Int("departed", len(result.Departed)),
		slog.Duration("duration", result.Duration),
	)
	return nil
}

// endMatch records the winner, runs the END_GAME barrier and returns the world
// to Idle. Highscore failures are logged and never keep the match open.
func (s *Server) endMatch(ctx context.Context, outcome game.Outcome) error {
	defer func() {
		s.world.FinishMatch()
		s.metrics.RecordMatchFinished(outcome.Duration)
	}()

	limit := s.config.Highscore.Limit
	entries, err := s.scores.Load(ctx)
	loaded := err == nil
	if err != nil {
		s.logger.Error("Failed to load highscores",
			slog.String("match_id", outcome.MatchID.String()),
			slog.String("error", err.Error()),
		)
		entries = nil
	}

	if outcome.HasWinner {
		var inserted bool
		entries, inserted = highscore.Insert(entries, highscore.NewEntry(outcome.WinnerName, outcome.WinnerScore, time.Now()), limit)
		if inserted {
			s.logger.Info("New highscore",
				slog.String("name", outcome.WinnerName),
				slog.Int("score", outcome.WinnerScore),
			)
		}
	}

	end := &protocol.EndGame{
		WinnerID:    outcome.WinnerID,
		WinnerScore: outcome.WinnerScore,
		Highscores:  make([]protocol.HighscoreEntry, 0, len(entries)),
	}
	for _, e := range entries {
		end.Highscores = append(end.Highscores, protocol.HighscoreEntry{Score: e.Score, Name: e.Name})
	}
	msg, err := end.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode END_GAME: %w", err)
	}

	sessions := s.sessions.List()
	targets := make([]uint8, 0, len(sessions))
	for _, sess := range sessions {
		targets = append(targets, sess.ID)
	}

	s.logger.Info("Match over",
		slog.String("match_id", outcome.MatchID.String()),
		slog.Bool("has_winner", outcome.HasWinner),
		slog.Int("winner_id", int(outcome.WinnerID)),
		slog.String("winner_name", outcome.WinnerName),
		slog.Int("winner_score", outcome.WinnerScore),
		slog.Duration("duration", outcome.Duration),
	)

	result, err := s.engine.Send(ctx, s.delivery("end_game", msg, protocol.CmdAckEndGame, targets))
	if err != nil {
		return err
	}
	s.logger.Debug("End barrier complete",
		slog.String("match_id", outcome.MatchID.String()),
		slog.Int("acked", len(result.Acked)),
		slog.Int("evicted", len(result.Evicted)),
	)

	if loaded {
		if err := s.scores.Save(ctx, entries); err != nil {
			s.logger.Error("Failed to save highscores",
				slog.String("match_id", outcome.MatchID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// delivery builds a reliable delivery with the configured timing
func (s *Server) delivery(name string, msg []byte, ack protocol.ClientCommand, targets []uint8) reliable.Delivery {
	return reliable.Delivery{
		Name:          name,
		Message:       msg,
		AckCommand:    ack,
		Targets:       targets,
		RetryInterval: s.config.Network.GetRetryInterval(),
		GiveUpAfter:   s.config.Network.GetDisconnectTimeout(),
	}
}

// owns reports whether addr is the registered address of session id
func (s *Server) owns(id uint8, addr netip.AddrPort) bool {
	registered, ok := s.sessions.Lookup(id)
	return ok && registered == addr
}

func (s *Server) violation(reason string, id uint8, addr netip.AddrPort) {
	s.metrics.RecordProtocolViolation(reason)
	s.logger.Debug("Dropping packet from unregistered sender",
		slog.String("reason", reason),
		slog.Int("session_id", int(id)),
		slog.String("remote_addr", addr.String()),
	)
}
