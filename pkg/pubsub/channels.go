package pubsub

import "fmt"

// Channel naming conventions shared by every driver. Channels follow
// "{prefix}:room:{roomID}:{suffix}" so the Kafka driver can map them onto a
// fixed topic keyed by room.
const (
	ChannelRoomFanout = "studyroom:room:%s:fanout"
	PatternRoomFanout = "studyroom:room:*:fanout"
)

// Event types carried on room channels.
const (
	EventRoomFanout = "room_fanout"
)

// RoomFanoutChannel returns the channel that mirrors a room's broadcasts.
func RoomFanoutChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomFanout, roomID)
}
