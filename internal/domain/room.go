package domain

import "time"

type RoomID string

// Mode selects how media is exchanged inside a huddle.
type Mode string

const (
	ModeMesh Mode = "mesh"
	ModeSFU  Mode = "sfu"
)

// Session describes the local participation in a huddle.
type Session struct {
	RoomID   RoomID    `json:"room_id"`
	Mode     Mode      `json:"mode"`
	JoinedAt time.Time `json:"joined_at"`
	Active   bool      `json:"active"`
}
