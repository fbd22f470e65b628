package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"frontline.gg/internal/observerproto"
	"frontline.gg/internal/supply/engine"
	"frontline.gg/internal/supply/level"
)

// Source is the supply engine side of the feed.
type Source interface {
	Subscribe(fn func(engine.Update)) func()
	Records(ctx context.Context, team string) []level.Record
	Round() string
}

type Server struct {
	src   Source
	teams func() []string
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*session
	stop     func()

	// AllowRemote disables the loopback-only check.
	AllowRemote bool
}

type session struct {
	id  string
	out chan []byte

	mu    sync.RWMutex
	teams map[string]bool // nil means every team
}

func (s *session) wants(team string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.teams == nil || s.teams[team]
}

func (s *session) setTeams(teams []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(teams) == 0 {
		s.teams = nil
		return
	}
	s.teams = map[string]bool{}
	for _, t := range teams {
		s.teams[t] = true
	}
}

// NewServer starts forwarding src updates. teams lists the known teams for
// subscribers that follow all of them.
func NewServer(src Source, teams func() []string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		src:      src,
		teams:    teams,
		log:      logger,
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	s.stop = src.Subscribe(s.broadcast)
	return s
}

// Close stops forwarding updates. Open connections stay until the client leaves.
func (s *Server) Close() {
	if s.stop != nil {
		s.stop()
	}
}

func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) broadcast(u engine.Update) {
	b, err := json.Marshal(observerproto.NewSupplyMsg(u))
	if err != nil {
		s.log.Printf("observer: marshal supply %s: %v", u.Team, err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if !sess.wants(u.Team) {
			continue
		}
		select {
		case sess.out <- b:
		default:
			// Slow client; it will catch up on the next recalculation.
		}
	}
}

func (s *Server) push(sess *session, teams []string) {
	if len(teams) == 0 && s.teams != nil {
		teams = s.teams()
	}
	sort.Strings(teams)
	round := s.src.Round()
	for _, team := range teams {
		msg := observerproto.NewSupplyMsg(engine.Update{
			Round:   round,
			Team:    team,
			Records: s.src.Records(context.Background(), team),
		})
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		select {
		case sess.out <- b:
		default:
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		sess := &session{
			id:  fmt.Sprintf("O%d", s.nextID.Add(1)),
			out: make(chan []byte, 256),
		}
		sess.setTeams(sub.Teams)
		s.mu.Lock()
		s.sessions[sess.id] = sess
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.sessions, sess.id)
			s.mu.Unlock()
		}()
		s.log.Printf("observer %s: subscribed teams=%v", sess.id, sub.Teams)
		s.push(sess, sub.Teams)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, ok := parseSubscribe(msg)
			if !ok {
				continue
			}
			sess.setTeams(sub.Teams)
			s.push(sess, sub.Teams)
		}

		cancel()
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	teams := sub.Teams[:0]
	seen := map[string]bool{}
	for _, t := range sub.Teams {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		teams = append(teams, t)
	}
	sub.Teams = teams
	return sub, true
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
