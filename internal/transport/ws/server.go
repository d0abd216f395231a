// Package ws is the owner-facing websocket transport. Each connection identifies one
// player; requests are mapped onto lifecycle operations and notices are pushed back.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/lifecycle"
	"simplemounts.ai/internal/mount"
	"simplemounts.ai/internal/mount/kinds"
	"simplemounts.ai/internal/protocol"
	"simplemounts.ai/internal/sim/loop"
	"simplemounts.ai/internal/sim/world"
)

const (
	writeWait     = 5 * time.Second
	readWait      = 60 * time.Second
	handshakeWait = 5 * time.Second
	maxPlayerID   = 64
)

type Server struct {
	mgr    *lifecycle.Manager
	host   *world.Host
	loop   *loop.Loop
	cfg    *config.Source
	logger *zap.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session // player id -> current session
}

type session struct {
	id     string
	player string
	perms  map[string]bool
	conn   *websocket.Conn
	out    chan []byte
}

func (ss *session) has(perm string) bool { return ss.perms[perm] }

func NewServer(mgr *lifecycle.Manager, host *world.Host, l *loop.Loop, cfg *config.Source, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		mgr:    mgr,
		host:   host,
		loop:   l,
		cfg:    cfg,
		logger: logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
}

// Sessions reports the number of connected players.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// CloseAll disconnects every player. Hijacked connections outlive http.Server.Shutdown, so
// the server binary calls this once the drain is done.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.sessions))
	for _, ss := range s.sessions {
		conns = append(conns, ss.conn)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		_ = c.Close()
	}
}

// Notify pushes n to its owner's connection. It never blocks; notices for a full queue are
// dropped.
func (s *Server) Notify(n lifecycle.Notice) {
	s.mu.Lock()
	ss := s.sessions[n.Owner]
	s.mu.Unlock()
	if ss == nil {
		return
	}
	b, err := json.Marshal(noticeMsg(n))
	if err != nil {
		return
	}
	select {
	case ss.out <- b:
	default:
		s.logger.Debug("notice dropped", zap.String("player", n.Owner), zap.String("code", n.Code))
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		ss := s.handshake(ctx, conn)
		if ss == nil {
			return
		}
		defer s.leave(ss)

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			res := s.handleMessage(ctx, ss, msg)
			b, err := json.Marshal(res)
			if err != nil {
				continue
			}
			select {
			case ss.out <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, ss *session, msg []byte) protocol.ResMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeReq {
		return failure(protocol.ReqMsg{}, protocol.ErrProtoBadRequest, "expected REQ")
	}
	var req protocol.ReqMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return failure(req, protocol.ErrProtoBadRequest, "malformed REQ")
	}
	if req.ProtocolVersion != protocol.Version {
		return failure(req, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	return s.dispatch(ctx, ss, req)
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "malformed HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return nil
	}
	player := strings.TrimSpace(hello.PlayerID)
	if player == "" || len(player) > maxPlayerID {
		closeWith(conn, "bad player_id")
		return nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 32
	}
	if maxQ > 256 {
		maxQ = 256
	}
	ss := &session{
		id:     uuid.NewString(),
		player: player,
		perms:  map[string]bool{},
		conn:   conn,
		out:    make(chan []byte, maxQ),
	}
	for _, p := range hello.Permissions {
		ss.perms[p] = true
	}

	spawn, err := loop.Do(ctx, s.loop, func() (mount.Placement, error) {
		return s.host.Join(player, hello.PlayerName, hello.Permissions).Placement(), nil
	})
	if err != nil {
		closeWith(conn, "server unavailable")
		return nil
	}
	s.register(ss)

	mounts, err := s.mgr.List(ctx, player)
	if err != nil {
		s.logger.Warn("listing mounts for welcome failed", zap.String("player", player), zap.Error(err))
	}
	lim := s.cfg.Current().Limits.Resolve(ss.has)
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       ss.id,
		PlayerID:        player,
		Spawn:           placementView(spawn),
		Limits:          protocol.LimitsView{Total: lim.Total, Kinds: lim.Kinds},
		Kinds:           kindViews(kinds.All()),
		Mounts:          mountViews(mounts),
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.leave(ss)
		return nil
	}
	s.logger.Info("player connected", zap.String("player", player), zap.String("session", ss.id))
	return ss
}

// register makes ss the player's session, closing an older connection of the same player.
func (s *Server) register(ss *session) {
	s.mu.Lock()
	old := s.sessions[ss.player]
	s.sessions[ss.player] = ss
	s.mu.Unlock()
	if old != nil {
		closeWith(old.conn, "replaced by a newer session")
		_ = old.conn.Close()
	}
}

// leave unregisters ss. The player quits the world only if no newer session took over.
func (s *Server) leave(ss *session) {
	s.mu.Lock()
	current := s.sessions[ss.player] == ss
	if current {
		delete(s.sessions, ss.player)
	}
	s.mu.Unlock()
	if !current {
		return
	}
	if err := s.loop.Submit(func() { s.host.Quit(ss.player) }); err != nil {
		s.logger.Warn("player quit not delivered", zap.String("player", ss.player), zap.Error(err))
	}
	s.logger.Info("player disconnected", zap.String("player", ss.player), zap.String("session", ss.id))
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
