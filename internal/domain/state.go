package domain

// RoomState is the authoritative playback state owned by the server.
// Clients mirror it wholesale and never mutate it locally. While playing,
// StartEpochMs is the server-clock instant the timeline started from;
// while paused, PositionSec is the frozen position and StartEpochMs is
// meaningless.
type RoomState struct {
	TrackURL     string  `json:"track_url"`
	Paused       bool    `json:"paused"`
	PositionSec  float64 `json:"position_sec"`
	StartEpochMs int64   `json:"start_epoch_ms"`
	PlaybackRate float64 `json:"playback_rate"`
	Volume       float64 `json:"volume"`
}

// NewRoomState returns the state a fresh room starts with.
func NewRoomState() RoomState {
	return RoomState{
		Paused:       true,
		PlaybackRate: 1.0,
		Volume:       1.0,
	}
}

// Reason tags a state broadcast with the authoritative change that caused it.
type Reason string

const (
	ReasonInit         Reason = "init"
	ReasonPlay         Reason = "play"
	ReasonPause        Reason = "pause"
	ReasonSeek         Reason = "seek"
	ReasonSetTrack     Reason = "set_track"
	ReasonSetVolume    Reason = "set_volume"
	ReasonHostTransfer Reason = "host_transfer"
	ReasonPeriodic     Reason = "periodic"
)

// Identity is assigned by the server at handshake and may change when the
// host seat moves.
type Identity struct {
	ClientID string
	IsHost   bool
}
