package roads

import (
	"fmt"
	"strings"
)

type actorKind uint8

const (
	actorNone actorKind = iota
	actorPlayer
	actorSystem
)

// Actor is whoever placed a road block: a player, or the system for blocks
// registered by a bulk scan.
type Actor struct {
	kind actorKind
	id   string
}

// System is the actor recorded for scanner-registered blocks.
var System = Actor{kind: actorSystem}

func Player(id string) Actor { return Actor{kind: actorPlayer, id: id} }

func (a Actor) IsSystem() bool { return a.kind == actorSystem }

func (a Actor) IsZero() bool { return a.kind == actorNone }

// PlayerID returns the player identifier, if a is a player.
func (a Actor) PlayerID() (string, bool) {
	if a.kind != actorPlayer {
		return "", false
	}
	return a.id, true
}

func (a Actor) String() string {
	switch a.kind {
	case actorPlayer:
		return "player:" + a.id
	case actorSystem:
		return "system"
	}
	return ""
}

func ParseActor(s string) (Actor, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "system":
		return System, nil
	case strings.HasPrefix(s, "player:") && len(s) > len("player:"):
		return Player(s[len("player:"):]), nil
	}
	return Actor{}, fmt.Errorf("bad actor %q", s)
}

func (a Actor) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Actor) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*a = Actor{}
		return nil
	}
	v, err := ParseActor(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
