// Package ws accepts the game-server event feed: road placements, removals
// and region captures, acknowledged one by one.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"frontline.gg/internal/protocol"
	"frontline.gg/internal/supply/geom"
	"frontline.gg/internal/supply/region"
	"frontline.gg/internal/supply/roads"
)

// Sink is the engine side of the feed.
type Sink interface {
	Round() string
	Grid() region.Grid
	Home(team string) (region.ID, bool)
	Place(ctx context.Context, pos geom.Pos, actor roads.Actor, team string) error
	Remove(ctx context.Context, pos geom.Pos) (string, bool, error)
	OwnershipChanged(id region.ID, oldTeam, newTeam string)
}

// Owners records captures. region.Registry satisfies it.
type Owners interface {
	SetOwner(id region.ID, team string) (string, error)
}

type Options struct {
	// EventsPerSecond limits each session; zero means unlimited.
	EventsPerSecond float64
	Burst           int
}

type Server struct {
	sink   Sink
	owners Owners
	teams  func() []string
	opts   Options
	log    *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(sink Sink, owners Owners, teams func() []string, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Server{
		sink:   sink,
		owners: owners,
		teams:  teams,
		opts:   opts,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) limiter() *rate.Limiter {
	if s.opts.EventsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, s.opts.Burst)
	}
	return rate.NewLimiter(rate.Limit(s.opts.EventsPerSecond), s.opts.Burst)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, name, out := s.handshake(conn)
		if sessionID == "" {
			return
		}
		s.log.Printf("feed %s (%s) connected from %s", sessionID, name, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		lim := s.limiter()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			ack := s.handle(ctx, lim, msg)
			b, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			default:
				s.log.Printf("feed %s: ack queue full, closing", sessionID)
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "ack queue full"), time.Now().Add(time.Second))
				cancel()
			}
			if ctx.Err() != nil {
				break
			}
		}
		s.log.Printf("feed %s (%s) disconnected", sessionID, name)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID, name string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", "", nil
	}
	name = strings.TrimSpace(hello.ServerName)
	if name == "" {
		name = "game"
	}
	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 64
	}
	if maxQ > 1024 {
		maxQ = 1024
	}

	sessionID = uuid.NewString()
	if err := writeJSON(conn, s.welcome(sessionID)); err != nil {
		return "", "", nil
	}
	return sessionID, name, make(chan []byte, maxQ)
}

func (s *Server) welcome(sessionID string) protocol.WelcomeMsg {
	g := s.sink.Grid()
	w := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Round:           s.sink.Round(),
		Grid:            protocol.GridRef{OriginX: g.OriginX, OriginZ: g.OriginZ, RegionSize: g.Size, Rows: g.Rows, Cols: g.Cols},
		Teams:           []protocol.TeamRef{},
	}
	if s.teams != nil {
		for _, t := range s.teams() {
			home, _ := s.sink.Home(t)
			w.Teams = append(w.Teams, protocol.TeamRef{Name: t, Home: string(home)})
		}
	}
	return w
}

func (s *Server) handle(ctx context.Context, lim *rate.Limiter, msg []byte) protocol.AckMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.Nack(0, protocol.ErrProtoBadRequest, "bad json")
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.Nack(0, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	switch base.Type {
	case protocol.TypePlace:
		var m protocol.PlaceMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.Nack(0, protocol.ErrProtoBadRequest, err.Error())
		}
		if !lim.Allow() {
			return protocol.Nack(m.Seq, protocol.ErrRateLimit, "slow down")
		}
		return s.place(ctx, m)
	case protocol.TypeRemove:
		var m protocol.RemoveMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.Nack(0, protocol.ErrProtoBadRequest, err.Error())
		}
		if !lim.Allow() {
			return protocol.Nack(m.Seq, protocol.ErrRateLimit, "slow down")
		}
		return s.remove(ctx, m)
	case protocol.TypeCapture:
		var m protocol.CaptureMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.Nack(0, protocol.ErrProtoBadRequest, err.Error())
		}
		return s.capture(m)
	}
	return protocol.Nack(0, protocol.ErrProtoBadRequest, fmt.Sprintf("unexpected message type %q", base.Type))
}

func (s *Server) place(ctx context.Context, m protocol.PlaceMsg) protocol.AckMsg {
	if s.sink.Round() == "" {
		return protocol.Nack(m.Seq, protocol.ErrNoRound, "no active round")
	}
	if _, ok := s.sink.Home(m.Team); !ok {
		return protocol.Nack(m.Seq, protocol.ErrUnknownTeam, fmt.Sprintf("unknown team %q", m.Team))
	}
	actor := roads.System
	if m.Actor != "" {
		a, err := roads.ParseActor(m.Actor)
		if err != nil {
			return protocol.Nack(m.Seq, protocol.ErrBadRequest, err.Error())
		}
		actor = a
	}
	pos := geom.Pos{X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2]}
	if err := s.sink.Place(ctx, pos, actor, m.Team); err != nil {
		s.log.Printf("feed place %s: %v", pos, err)
		return protocol.Nack(m.Seq, protocol.ErrInternal, "store failure")
	}
	return protocol.Ack(m.Seq)
}

func (s *Server) remove(ctx context.Context, m protocol.RemoveMsg) protocol.AckMsg {
	if s.sink.Round() == "" {
		return protocol.Nack(m.Seq, protocol.ErrNoRound, "no active round")
	}
	pos := geom.Pos{X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2]}
	team, _, err := s.sink.Remove(ctx, pos)
	if err != nil {
		s.log.Printf("feed remove %s: %v", pos, err)
		return protocol.Nack(m.Seq, protocol.ErrInternal, "store failure")
	}
	ack := protocol.Ack(m.Seq)
	ack.Team = team
	return ack
}

func (s *Server) capture(m protocol.CaptureMsg) protocol.AckMsg {
	id, ok := s.sink.Grid().Normalize(region.ID(m.Region))
	if !ok {
		return protocol.Nack(m.Seq, protocol.ErrUnknownRegion, fmt.Sprintf("unknown region %q", m.Region))
	}
	team := strings.TrimSpace(m.Team)
	if team != "" {
		if _, ok := s.sink.Home(team); !ok {
			return protocol.Nack(m.Seq, protocol.ErrUnknownTeam, fmt.Sprintf("unknown team %q", team))
		}
	}
	prev, err := s.owners.SetOwner(id, team)
	if err != nil {
		return protocol.Nack(m.Seq, protocol.ErrInternal, err.Error())
	}
	if prev != team {
		s.sink.OwnershipChanged(id, prev, team)
	}
	ack := protocol.Ack(m.Seq)
	ack.Team = prev
	return ack
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
