package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Event layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownTeam   = "E_UNKNOWN_TEAM"
	ErrUnknownRegion = "E_UNKNOWN_REGION"
	ErrNoRound       = "E_NO_ROUND"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrUnknownTeam:     {},
	ErrUnknownRegion:   {},
	ErrNoRound:         {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
