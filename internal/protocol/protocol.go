// Package protocol holds the event names and payload encoding shared by the
// grid client and the coordinator.
package protocol

const (
	// EventCommand carries requests to the coordinator and results back.
	EventCommand = "/cmd"
	// EventIdentity is emitted once by the coordinator right after connect.
	EventIdentity = "/identity/"

	// ServiceIdentity is what a genuine grid node announces.
	ServiceIdentity = "OpenGrid"

	// AckMarker is the reply for a command that produced nothing to return.
	AckMarker = "ACK"
)

// CommandPayload is the body of an outbound EventCommand.
type CommandPayload struct {
	Message string `json:"message"`
}

// IsAck reports whether a decoded reply is the acknowledgement marker.
func IsAck(reply []byte) bool {
	return string(reply) == AckMarker
}
