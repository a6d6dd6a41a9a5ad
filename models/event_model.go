package models

const (
	EventMessageReceived  = "messageReceived"
	EventReadStateChanged = "readStateChanged"
	EventJoined           = "joined"
	EventLeft             = "left"
	EventError            = "error"
)

// Event is the envelope pushed to channel subscribers.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type ReadStateChange struct {
	UserID       string `json:"userId"`
	OtherPartyID string `json:"roommateId"`
	RoomID       string `json:"roomId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ErrorEvent(code, message string) Event {
	return Event{Event: EventError, Data: ErrorPayload{Code: code, Message: message}}
}

func MessageReceived(m Message) Event {
	return Event{Event: EventMessageReceived, Data: m}
}

func ReadStateChanged(reader, other, room string) Event {
	return Event{Event: EventReadStateChanged, Data: ReadStateChange{UserID: reader, OtherPartyID: other, RoomID: room}}
}
