package observerproto

import (
	"time"

	"frontline.gg/internal/supply/engine"
	"frontline.gg/internal/supply/level"
)

// Version is the supply observer protocol version.
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeSupply    = "SUPPLY"
	TypeError     = "ERROR"
)

// Client -> Server. First message on the connection; may be re-sent to change teams.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Teams to follow. Empty means every team.
	Teams []string `json:"teams,omitempty"`
}

// Server -> Client. Sent once per subscribed team on subscribe and after every
// recalculation of that team.
type SupplyMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Round           string         `json:"round"`
	Team            string         `json:"team"`
	Regions         []RegionSupply `json:"regions"`
}

type RegionSupply struct {
	Region    string      `json:"region"`
	Level     level.Level `json:"level"`
	Connected bool        `json:"connected"`
	Hops      int         `json:"hops"`
	UpdatedAt string      `json:"updated_at,omitempty"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewSupplyMsg(u engine.Update) SupplyMsg {
	msg := SupplyMsg{
		Type:            TypeSupply,
		ProtocolVersion: Version,
		Round:           u.Round,
		Team:            u.Team,
		Regions:         make([]RegionSupply, 0, len(u.Records)),
	}
	for _, r := range u.Records {
		rs := RegionSupply{Region: string(r.Region), Level: r.Level, Connected: r.Connected, Hops: r.Hops}
		if !r.UpdatedAt.IsZero() {
			rs.UpdatedAt = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}
		msg.Regions = append(msg.Regions, rs)
	}
	return msg
}
