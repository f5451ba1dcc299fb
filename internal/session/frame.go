package session

// Frame message_type discriminators on the device channel.
const (
	TypeRegistration     = "registration"
	TypeHeartbeat        = "heartbeat"
	TypeStatus           = "status"
	TypeCommandAck       = "command_ack"
	TypeCommand          = "command"
	TypeAudioChunk       = "audio_chunk"
	TypeAudioResponseEnd = "audio_response_end"
)

// Ack statuses carried by command_ack frames.
const (
	AckSuccess = "success"
	AckError   = "error"
)

// Frame is one inbound JSON message from a device. Only the discriminator
// and the per-kind required fields are validated; payload and metadata stay
// opaque maps persisted verbatim.
type Frame struct {
	MessageType string         `json:"message_type"`
	DeviceType  string         `json:"device_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	CommandID   string         `json:"command_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Response    map[string]any `json:"response,omitempty"`
}

// CommandFrame is the outbound directed-command message.
type CommandFrame struct {
	MessageType string         `json:"message_type"`
	CommandID   string         `json:"command_id"`
	CommandName string         `json:"command_name"`
	Payload     map[string]any `json:"payload"`
}

// NewCommandFrame builds a command frame with the discriminator set.
func NewCommandFrame(commandID, commandName string, payload map[string]any) CommandFrame {
	if payload == nil {
		payload = map[string]any{}
	}
	return CommandFrame{
		MessageType: TypeCommand,
		CommandID:   commandID,
		CommandName: commandName,
		Payload:     payload,
	}
}

// AudioChunkFrame carries one base64 PCM chunk of a synthesized reply.
// The terminating chunk has IsLast set.
type AudioChunkFrame struct {
	MessageType string `json:"message_type"`
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"samplerate"`
	Format      string `json:"format"`
	Index       int    `json:"index"`
	Total       int    `json:"total"`
	IsLast      bool   `json:"is_last"`
}
