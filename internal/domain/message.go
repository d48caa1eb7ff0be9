package domain

// Message types exchanged over the websocket.
const (
	TypeInit    = "init"
	TypeState   = "state"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeClients = "clients"
	TypeHello   = "hello"
	TypeControl = "control"
	TypeError   = "error"
)

// Control actions a host may issue.
const (
	ActionPlay      = "play"
	ActionPause     = "pause"
	ActionSeek      = "seek"
	ActionSetTrack  = "set_track"
	ActionSetVolume = "set_volume"
)

// Message is the wire envelope for every frame in both directions. Fields
// are populated per Type; everything else stays zero and is omitted.
type Message struct {
	Type string `json:"type"`

	// ping / pong
	T0 int64 `json:"t0,omitempty"`

	// init / state
	IsHost   *bool      `json:"is_host,omitempty"`
	ClientID string     `json:"client_id,omitempty"`
	Reason   Reason     `json:"reason,omitempty"`
	State    *RoomState `json:"state,omitempty"`

	// clients roster
	Clients []ClientInfo `json:"clients,omitempty"`

	// hello
	WantHost bool   `json:"want_host,omitempty"`
	Name     string `json:"name,omitempty"`

	// control
	Action       string   `json:"action,omitempty"`
	PositionSec  *float64 `json:"position_sec,omitempty"`
	TrackURL     string   `json:"track_url,omitempty"`
	Volume       *float64 `json:"volume,omitempty"`
	PlaybackRate *float64 `json:"playback_rate,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientInfo is one roster entry, forwarded to presentation only.
type ClientInfo struct {
	ID     string `json:"id"`
	Short  string `json:"short"`
	IsHost bool   `json:"is_host"`
	IP     string `json:"ip,omitempty"`
	Name   string `json:"name"`
}

// ErrorMessage builds an error frame.
func ErrorMessage(code, msg string) Message {
	return Message{Type: TypeError, Code: code, Message: msg}
}
