// Package level turns road connectivity into the four discrete supply levels
// and the gameplay constants attached to them.
package level

import (
	"fmt"
	"strings"
	"time"

	"frontline.gg/internal/supply/region"
)

// Level is ordered by severity: a larger value is worse.
type Level int

const (
	Supplied Level = iota
	Partial
	Unsupplied
	Isolated
)

var names = [...]string{"SUPPLIED", "PARTIAL", "UNSUPPLIED", "ISOLATED"}

func All() []Level { return []Level{Supplied, Partial, Unsupplied, Isolated} }

func (l Level) Valid() bool { return l >= Supplied && l <= Isolated }

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return names[l]
}

func Parse(s string) (Level, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return Level(i), nil
		}
	}
	return Isolated, fmt.Errorf("unknown supply level %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid supply level %d", int(l))
	}
	return []byte(names[l]), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Worse reports whether l is more severe than o.
func (l Level) Worse(o Level) bool { return l > o }

type Record struct {
	Region    region.ID `json:"region"`
	Team      string    `json:"team"`
	Level     Level     `json:"level"`
	Connected bool      `json:"connected"`
	// Hops is the verified road distance to home, -1 when there is none.
	Hops      int       `json:"hops"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Effects struct {
	RespawnDelaySeconds   int     `yaml:"respawn_delay_seconds" json:"respawn_delay_seconds"`
	HealthRegenMultiplier float64 `yaml:"health_regen_multiplier" json:"health_regen_multiplier"`
}

// Table maps each level to its gameplay effects.
type Table map[Level]Effects

func DefaultTable() Table {
	return Table{
		Supplied:   {RespawnDelaySeconds: 0, HealthRegenMultiplier: 1.0},
		Partial:    {RespawnDelaySeconds: 5, HealthRegenMultiplier: 0.75},
		Unsupplied: {RespawnDelaySeconds: 10, HealthRegenMultiplier: 0.5},
		Isolated:   {RespawnDelaySeconds: 20, HealthRegenMultiplier: 0.25},
	}
}

func (t Table) effects(l Level) Effects {
	if e, ok := t[l]; ok {
		return e
	}
	return DefaultTable()[l]
}

func (t Table) RespawnDelaySeconds(l Level) int { return t.effects(l).RespawnDelaySeconds }

func (t Table) HealthRegenMultiplier(l Level) float64 { return t.effects(l).HealthRegenMultiplier }
