package protocol

// The structs below are hand-maintained against proto/alpha_speaker.proto.
// Field numbers live in wire.go and must track the schema.

// SpeakerRegistration is the registration handshake sent by a speaker.
type SpeakerRegistration struct {
	SpeakerID       string
	SpeakerName     string
	SpeakerType     string
	FirmwareVersion string
	Capabilities    []string
	Settings        map[string]string
}

// RegistrationResponse acknowledges a registration and carries the session id.
type RegistrationResponse struct {
	Success        bool
	Message        string
	ServerVersion  string
	SessionID      string
	ServerSettings map[string]string
}

// StateStreamRequest opens a device-state or TTS-command stream.
type StateStreamRequest struct {
	SpeakerID        string
	EntityFilters    []string
	SendInitialState bool
}

// DeviceState is one entity state pushed on the device-state stream.
// A zero-value DeviceState is the stream heartbeat.
type DeviceState struct {
	EntityID     string
	State        string
	Attributes   map[string]string
	FriendlyName string
	Domain       string
	LastChanged  int64 // unix ms
	LastUpdated  int64 // unix ms
}

// SpeakTextRequest is a TTS command pushed to a speaker. Empty text with a
// keepalive message id is the TTS stream heartbeat.
type SpeakTextRequest struct {
	SpeakerID string
	Text      string
	Language  string
	Voice     string
	Volume    int32
	Priority  bool
	MessageID string
	Timestamp int64 // unix ms
}

// SpeakTextResponse is the speaker's acknowledgement of a TTS command.
type SpeakTextResponse struct {
	SpeakerID string
	MessageID string
	Success   bool
	Message   string
	Timestamp int64 // unix ms
}

// TTSAck acknowledges receipt of a TTS response or request.
type TTSAck struct {
	Success   bool
	MessageID string
	Timestamp int64 // unix ms
}

// TTSRequest is a speaker-initiated request to have text spoken elsewhere.
type TTSRequest struct {
	SpeakerID string
	Text      string
	Language  string
	Voice     string
	Volume    int32
	Priority  bool
}

// AlphaCommand is a generic device command sent by a speaker.
type AlphaCommand struct {
	SpeakerID    string
	CommandType  string
	EntityID     string
	Parameters   map[string]string
	VoiceCommand string
	Timestamp    int64 // unix ms
}

// CommandResponse reports the outcome of an AlphaCommand.
type CommandResponse struct {
	Success     bool
	EventID     string
	ResultState string
	Message     string
}

// DeviceListRequest asks for the entities a speaker may control.
type DeviceListRequest struct {
	SpeakerID string
	Domains   []string
}

// DeviceInfo describes one controllable entity.
type DeviceInfo struct {
	EntityID          string
	FriendlyName      string
	Domain            string
	CurrentState      string
	Attributes        map[string]string
	SupportedCommands []string
}

// DeviceList is the device enumeration response.
type DeviceList struct {
	Devices    []DeviceInfo
	TotalCount int32
}

// PingRequest is the keep-alive probe from a speaker.
type PingRequest struct {
	SpeakerID string
}

// PingResponse reports liveness and a human-readable status line.
type PingResponse struct {
	Alive         bool
	ServerTime    int64 // unix ms
	StatusMessage string
}
