package main

import (
	"sync"
	"time"
)

// RoomStore owns the per-room chat buffers. Rooms are created on first
// append or first eviction pass and are never destroyed; an idle room
// keeps an empty buffer. Eviction is explicit: callers invoke Evict at
// the defined call sites (room join, sweep tick) rather than on reads.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[string][]ChatMessage
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string][]ChatMessage),
	}
}

func (s *RoomStore) Append(room, from, text string, now time.Time) ChatMessage {
	msg := ChatMessage{From: from, Text: text, SentAt: now}

	s.mu.Lock()
	s.rooms[room] = append(s.rooms[room], msg)
	s.mu.Unlock()

	return msg
}

// Evict drops every message older than chatLifetime from the room,
// preserving relative order, and returns the surviving history. The
// returned slice is a copy and never nil, so an empty room serializes
// as an empty JSON array.
func (s *RoomStore) Evict(room string, now time.Time) []ChatMessage {
	cutoff := now.Add(-chatLifetime)

	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.rooms[room]
	if !ok {
		s.rooms[room] = []ChatMessage{}
		return []ChatMessage{}
	}

	kept := buf[:0]
	for _, m := range buf {
		if m.SentAt.After(cutoff) {
			kept = append(kept, m)
		}
	}
	s.rooms[room] = kept

	out := make([]ChatMessage, len(kept))
	copy(out, kept)
	return out
}

func (s *RoomStore) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// FileBuffer is the global transient file relay. Records from every
// room share one sequence; eviction scans the whole buffer.
type FileBuffer struct {
	mu    sync.Mutex
	files []FileRecord
}

func NewFileBuffer() *FileBuffer {
	return &FileBuffer{}
}

// Add appends the record unless its declared size exceeds the per-file
// ceiling, in which case it reports false and stores nothing.
func (b *FileBuffer) Add(rec FileRecord) bool {
	if rec.Size > maxFileBytes {
		return false
	}

	b.mu.Lock()
	b.files = append(b.files, rec)
	b.mu.Unlock()

	return true
}

// Evict drops every record older than fileLifetime.
func (b *FileBuffer) Evict(now time.Time) {
	cutoff := now.Add(-fileLifetime)

	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.files[:0]
	for _, f := range b.files {
		if f.SentAt.After(cutoff) {
			kept = append(kept, f)
		}
	}
	b.files = kept
}

func (b *FileBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

func (b *FileBuffer) Snapshot() []FileRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]FileRecord, len(b.files))
	copy(out, b.files)
	return out
}
