package domain

// Player is the local playback primitive the sync engine drives. Adapters
// wrap whatever actually plays media (a media element, an embedded player,
// a headless simulation); the engine only ever talks to this contract.
type Player interface {
	// Position reports the current playback position in seconds.
	Position() float64
	// SeekTo jumps to the given position in seconds.
	SeekTo(sec float64)
	// SetRate sets the playback rate factor (1.0 = normal speed).
	SetRate(rate float64)
	// SetVolume sets the volume in [0, 1].
	SetVolume(v float64)
	Play()
	Pause()
	// Load replaces the current source. Position resets to zero.
	Load(ref string)
	// Buffering reports whether the player is currently stalled.
	Buffering() bool
}

// PlayerEventKind enumerates events a player adapter may surface.
type PlayerEventKind int

const (
	EventBufferingStarted PlayerEventKind = iota
	EventBufferingEnded
	// EventMetadataReady carries the media duration once known.
	EventMetadataReady
	// EventPlaybackBlocked means playback needs a manual gesture (for
	// example an autoplay rejection). The engine keeps computing the
	// desired position so playback resumes aligned once permitted.
	EventPlaybackBlocked
)

// PlayerEvent is an asynchronous notification from a player adapter.
type PlayerEvent struct {
	Kind        PlayerEventKind
	DurationSec float64
}

// PlayerEventSource is implemented by adapters that push events.
type PlayerEventSource interface {
	Events() <-chan PlayerEvent
}
