package app

import "time"

// Timings are the call lifecycle durations. All of them come from config;
// the defaults match the UI expectations the frontend was written against.
type Timings struct {
	// ConnectTimeout bounds how long a dialed or answered call may wait for
	// remote media before closing with a timeout.
	ConnectTimeout time.Duration
	// HealthInterval is the period of the stall detector.
	HealthInterval time.Duration
	// StallGrace is how long after dialing a failed transport with no remote
	// media is tolerated before the automatic re-dial.
	StallGrace time.Duration
	// ReconnectDelay is the fixed wait before each signaling reconnect.
	ReconnectDelay time.Duration
	// MaxReconnects caps consecutive reconnect attempts.
	MaxReconnects int
}

func DefaultTimings() Timings {
	return Timings{
		ConnectTimeout: 30 * time.Second,
		HealthInterval: 5 * time.Second,
		StallGrace:     10 * time.Second,
		ReconnectDelay: 2 * time.Second,
		MaxReconnects:  3,
	}
}
