package main

import (
	"time"
)

const (
	maxUsernameLen = 10
	fileLimitMB    = 20
	minuteLimitMB  = 100 // aggregate upload ceiling per minute, declared but not enforced
	fileLifetime   = 1 * time.Minute
	chatLifetime   = 10 * time.Minute
	sweepInterval  = 10 * time.Second

	maxFileBytes = fileLimitMB * 1024 * 1024

	// base64 inflates payloads by 4/3, so a ceiling-size upload arrives
	// as a frame of roughly 28 MB plus the data-URL prefix and JSON
	// envelope. The websocket read limit has to admit that, not the
	// decoded size.
	maxUploadFrameBytes = (maxFileBytes+2)/3*4 + 64*1024

	// adminUsername is the single privileged identity allowed to run
	// admin actions and spy requests.
	adminUsername = "lucabos22"
)

type User struct {
	Username    string     `json:"username"`
	IP          string     `json:"-"`
	Friends     []string   `json:"friends"`
	Requests    []string   `json:"requests"`
	Muted       bool       `json:"muted"`
	MuteExpires *time.Time `json:"muteExpires"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Ban struct {
	ID      int64     `json:"id"`
	IP      string    `json:"ip"`
	Expires time.Time `json:"expires"`
}

type ChatMessage struct {
	From   string    `json:"from"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"ts"`
}

// FileRecord is a transient file transfer held in the global relay
// buffer. Payload is whatever opaque encoding the client sent; Size is
// the caller-declared byte count.
type FileRecord struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	From      string    `json:"from"`
	MediaType string    `json:"type"`
	Size      int64     `json:"size"`
	Payload   string    `json:"file"`
	SentAt    time.Time `json:"ts"`
}

// WebSocket message types
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type LoginData struct {
	Username string `json:"username"`
}

type SetupData struct {
	Friends     []string   `json:"friends"`
	Requests    []string   `json:"requests"`
	Muted       bool       `json:"muted"`
	MuteExpires *time.Time `json:"muteExpires"`
}

type FriendEventData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type JoinRoomData struct {
	Room string `json:"room"`
}

type ChatMsgData struct {
	Room string `json:"room"`
	From string `json:"from"`
	Text string `json:"text"`
}

type FileUploadData struct {
	Room string `json:"room"`
	From string `json:"from"`
	File string `json:"file"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

type SpyData struct {
	Target string `json:"target"`
}

type ChatMsgBroadcast struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type RequestUpdateBroadcast struct {
	To string `json:"to"`
}

type FriendUpdateBroadcast struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type FileReceiveBroadcast struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	File string `json:"file"`
}

type SpyRequestBroadcast struct {
	Admin string `json:"admin"`
}
