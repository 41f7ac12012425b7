// Package protocol defines the wire surface of the AlphaSpeakerService:
// typed request/response messages, the service descriptor, and a protobuf
// wire-format codec for the gRPC transport. The schema lives in
// proto/alpha_speaker.proto; the Go stubs here are hand-maintained against
// it and encode with protowire, so the bytes on the wire match what
// protoc-generated firmware stubs produce and expect.
package protocol
