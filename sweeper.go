package main

import (
	"time"
)

// Broadcaster is the slice of the session manager the sweeper needs.
type Broadcaster interface {
	BroadcastToRoom(room string, msgType string, data interface{})
}

// Sweeper enforces the retention windows on a fixed period. It runs
// independently of connection lifecycle: with zero clients connected
// the buffers still get cleaned on schedule.
type Sweeper struct {
	state *RoomStore
	files *FileBuffer
	bc    Broadcaster
	quit  chan struct{}
}

func NewSweeper(state *RoomStore, files *FileBuffer, bc Broadcaster) *Sweeper {
	return &Sweeper{
		state: state,
		files: files,
		bc:    bc,
		quit:  make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.quit)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.quit:
			return
		}
	}
}

// sweep evicts expired messages from every known room and re-publishes
// each room's surviving history to its subscribers, whether or not
// anything was evicted. File records are evicted globally with no
// re-broadcast.
func (s *Sweeper) sweep(now time.Time) {
	for _, room := range s.state.Rooms() {
		history := s.state.Evict(room, now)
		s.bc.BroadcastToRoom(room, "chat-history", history)
	}

	s.files.Evict(now)
}
