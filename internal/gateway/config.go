package gateway

import (
	"net/http"
	"time"
)

// Config holds tunables for the realtime hub and its sockets.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	SweepInterval   time.Duration
	IdleTimeout     time.Duration
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the production defaults. The sweep interval and
// idle timeout pair means a silent client survives at most one missed
// heartbeat window past two minutes.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		SweepInterval:   30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}
