package main

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) CreateTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username     TEXT PRIMARY KEY,
		ip           TEXT NOT NULL,
		friends      TEXT NOT NULL DEFAULT '[]',
		requests     TEXT NOT NULL DEFAULT '[]',
		muted        INTEGER NOT NULL DEFAULT 0,
		mute_expires INTEGER,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bans (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		ip      TEXT NOT NULL,
		expires INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bans_ip ON bans(ip);
	`

	_, err := d.db.Exec(schema)
	return err
}

func (d *Database) CreateUser(username, ip string) (*User, error) {
	_, err := d.db.Exec(
		"INSERT INTO users (username, ip) VALUES (?, ?)",
		username, ip,
	)
	if err != nil {
		return nil, err
	}

	return d.GetUserByUsername(username)
}

func (d *Database) GetUserByUsername(username string) (*User, error) {
	user := &User{}
	var friendsJSON, requestsJSON string
	var muteExpires sql.NullInt64

	err := d.db.QueryRow(
		"SELECT username, ip, friends, requests, muted, mute_expires, created_at FROM users WHERE username = ?",
		username,
	).Scan(&user.Username, &user.IP, &friendsJSON, &requestsJSON, &user.Muted, &muteExpires, &user.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(friendsJSON), &user.Friends); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(requestsJSON), &user.Requests); err != nil {
		return nil, err
	}
	if muteExpires.Valid {
		t := time.UnixMilli(muteExpires.Int64)
		user.MuteExpires = &t
	}

	return user, nil
}

func (d *Database) saveLists(username string, friends, requests []string) error {
	friendsJSON, err := json.Marshal(friends)
	if err != nil {
		return err
	}
	requestsJSON, err := json.Marshal(requests)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(
		"UPDATE users SET friends = ?, requests = ? WHERE username = ?",
		string(friendsJSON), string(requestsJSON), username,
	)
	return err
}

// AddFriendRequest appends from to the target's pending requests. It
// fails with sql.ErrNoRows when the target does not exist.
func (d *Database) AddFriendRequest(from, to string) error {
	target, err := d.GetUserByUsername(to)
	if err != nil {
		return err
	}

	return d.saveLists(to, target.Friends, append(target.Requests, from))
}

// AcceptFriend links both users and clears the pending request. The two
// row updates are deliberately independent: a failure between them
// leaves a one-sided friendship, and callers accept this.
func (d *Database) AcceptFriend(from, to string) error {
	target, err := d.GetUserByUsername(to)
	if err != nil {
		return err
	}
	if err := d.saveLists(to, appendUnique(target.Friends, from), removeString(target.Requests, from)); err != nil {
		return err
	}

	source, err := d.GetUserByUsername(from)
	if err != nil {
		return err
	}
	return d.saveLists(from, appendUnique(source.Friends, to), source.Requests)
}

func (d *Database) SetMute(username string, until time.Time) error {
	_, err := d.db.Exec(
		"UPDATE users SET muted = 1, mute_expires = ? WHERE username = ?",
		until.UnixMilli(), username,
	)
	return err
}

func (d *Database) ClearMute(username string) error {
	_, err := d.db.Exec(
		"UPDATE users SET muted = 0, mute_expires = NULL WHERE username = ?",
		username,
	)
	return err
}

func (d *Database) InsertBan(ip string, expires time.Time) error {
	_, err := d.db.Exec(
		"INSERT INTO bans (ip, expires) VALUES (?, ?)",
		ip, expires.UnixMilli(),
	)
	return err
}

// DeleteBans removes every ban record for the ip, active or expired.
func (d *Database) DeleteBans(ip string) error {
	_, err := d.db.Exec("DELETE FROM bans WHERE ip = ?", ip)
	return err
}

func (d *Database) IsBanned(ip string, now time.Time) (bool, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM bans WHERE ip = ? AND expires > ?",
		ip, now.UnixMilli(),
	).Scan(&count)
	return count > 0, err
}

// ActiveBan returns the longest-lived active ban for the ip, or nil
// when none is active. Expired records are ignored, not deleted.
func (d *Database) ActiveBan(ip string, now time.Time) (*Ban, error) {
	ban := &Ban{}
	var expires int64

	err := d.db.QueryRow(
		"SELECT id, ip, expires FROM bans WHERE ip = ? AND expires > ? ORDER BY expires DESC LIMIT 1",
		ip, now.UnixMilli(),
	).Scan(&ban.ID, &ban.IP, &expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ban.Expires = time.UnixMilli(expires)
	return ban, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

func removeString(list []string, value string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
