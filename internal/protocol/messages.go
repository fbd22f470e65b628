package protocol

// HELLO (game server -> supply)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ServerName      string `json:"server_name"`
	// MaxQueue bounds unsent ACKs before the session is dropped.
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (supply -> game server)
type WelcomeMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	SessionID       string    `json:"session_id"`
	Round           string    `json:"round"`
	Grid            GridRef   `json:"grid"`
	Teams           []TeamRef `json:"teams"`
}

type GridRef struct {
	OriginX    int `json:"origin_x"`
	OriginZ    int `json:"origin_z"`
	RegionSize int `json:"region_size"`
	Rows       int `json:"rows"`
	Cols       int `json:"cols"`
}

type TeamRef struct {
	Name string `json:"name"`
	Home string `json:"home"`
}

// PLACE (game server -> supply). A road block was placed.
type PlaceMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Pos             [3]int `json:"pos"`
	Team            string `json:"team"`
	// Actor is "player:<id>" or "system".
	Actor string `json:"actor,omitempty"`
}

// REMOVE (game server -> supply). A road block was broken.
type RemoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Pos             [3]int `json:"pos"`
}

// CAPTURE (game server -> supply). Region ownership changed; empty team neutralises.
type CaptureMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Region          string `json:"region"`
	Team            string `json:"team"`
}

// ACK (supply -> game server). One per PLACE/REMOVE/CAPTURE.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	// Team owning the removed block, or the previous owner of a captured region.
	Team string `json:"team,omitempty"`
}

func Ack(seq uint64) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, Seq: seq, OK: true}
}

func Nack(seq uint64, code, msg string) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, Seq: seq, Code: code, Message: msg}
}
