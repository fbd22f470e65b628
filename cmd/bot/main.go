// Command bot stands in for a game server on the feed: it captures a region
// for a team and lays a road to it from the team's home, one PLACE per block.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"frontline.gg/internal/protocol"
)

func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/feed/ws", "feed ws url")
		name    = flag.String("name", "bot", "server name sent in HELLO")
		team    = flag.String("team", "red", "team laying the road")
		to      = flag.String("to", "A2", "region to capture and connect")
		y       = flag.Int("y", 64, "road height")
		perSec  = flag.Int("rate", 50, "events per second")
		capture = flag.Bool("capture", true, "capture -to before building")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ServerName: *name, MaxQueue: 256}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var w protocol.WelcomeMsg
	if err := conn.ReadJSON(&w); err != nil || w.Type != protocol.TypeWelcome {
		logger.Fatalf("expected WELCOME: %v", err)
	}
	logger.Printf("WELCOME session=%s round=%s grid=%dx%d size=%d", w.SessionID, w.Round, w.Grid.Rows, w.Grid.Cols, w.Grid.RegionSize)

	home := ""
	for _, t := range w.Teams {
		if t.Name == *team {
			home = t.Home
		}
	}
	if home == "" {
		logger.Fatalf("team %q has no home", *team)
	}
	path, err := roadPath(w.Grid, home, *to, *y)
	if err != nil {
		logger.Fatalf("plan: %v", err)
	}

	var msgs []any
	seq := uint64(0)
	if *capture {
		seq++
		msgs = append(msgs, protocol.CaptureMsg{Type: protocol.TypeCapture, ProtocolVersion: protocol.Version, Seq: seq, Region: *to, Team: *team})
	}
	for _, p := range path {
		seq++
		msgs = append(msgs, protocol.PlaceMsg{Type: protocol.TypePlace, ProtocolVersion: protocol.Version, Seq: seq, Pos: p, Team: *team, Actor: "system"})
	}
	logger.Printf("%s -> %s: %d blocks", home, *to, len(path))

	done := make(chan struct{})
	go func() {
		defer close(done)
		var ok, failed int
		for ok+failed < len(msgs) {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			var ack protocol.AckMsg
			if err := json.Unmarshal(raw, &ack); err != nil || ack.Type != protocol.TypeAck {
				continue
			}
			if ack.OK {
				ok++
				continue
			}
			failed++
			if !protocol.IsKnownCode(ack.Code) {
				logger.Printf("NACK seq=%d with unrecognised code %q", ack.Seq, ack.Code)
			}
			logger.Printf("NACK seq=%d code=%s %s", ack.Seq, ack.Code, ack.Message)
		}
		logger.Printf("done: %d ok, %d rejected", ok, failed)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	tick := time.NewTicker(time.Second / time.Duration(max(*perSec, 1)))
	defer tick.Stop()
	for _, m := range msgs {
		select {
		case <-stop:
			return
		case <-done:
			return
		case <-tick.C:
		}
		if err := conn.WriteJSON(m); err != nil {
			logger.Fatalf("send: %v", err)
		}
	}
	select {
	case <-done:
	case <-stop:
	case <-time.After(10 * time.Second):
		logger.Printf("timed out waiting for ACKs")
	}
}
