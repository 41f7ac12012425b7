package protocol

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alpha.AlphaSpeakerService"

// DeviceStateStream is the send side of a device-state stream.
type DeviceStateStream interface {
	Send(*DeviceState) error
	Context() context.Context
}

// TTSCommandStream is the send side of a TTS-command stream.
type TTSCommandStream interface {
	Send(*SpeakTextRequest) error
	Context() context.Context
}

// AlphaSpeakerServiceServer is the server API for the AlphaSpeakerService.
type AlphaSpeakerServiceServer interface {
	RegisterAlphaSpeaker(context.Context, *SpeakerRegistration) (*RegistrationResponse, error)
	StreamDeviceStates(*StateStreamRequest, DeviceStateStream) error
	StreamTTSCommands(*StateStreamRequest, TTSCommandStream) error
	SendTTSResponse(context.Context, *SpeakTextResponse) (*TTSAck, error)
	SendTextForSpeech(context.Context, *TTSRequest) (*TTSAck, error)
	SendAlphaCommand(context.Context, *AlphaCommand) (*CommandResponse, error)
	GetAvailableDevices(context.Context, *DeviceListRequest) (*DeviceList, error)
	KeepAlive(context.Context, *PingRequest) (*PingResponse, error)
}

// RegisterAlphaSpeakerServiceServer registers the service implementation
// with a gRPC server.
func RegisterAlphaSpeakerServiceServer(s grpc.ServiceRegistrar, srv AlphaSpeakerServiceServer) {
	s.RegisterService(&AlphaSpeakerServiceDesc, srv)
}

func registerHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SpeakerRegistration)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlphaSpeakerServiceServer).RegisterAlphaSpeaker(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/RegisterAlphaSpeaker",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlphaSpeakerServiceServer).RegisterAlphaSpeaker(ctx, req.(*SpeakerRegistration))
	}
	return interceptor(ctx, in, info, handler)
}

func sendTTSResponseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SpeakTextResponse)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlphaSpeakerServiceServer).SendTTSResponse(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/SendTTSResponse",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlphaSpeakerServiceServer).SendTTSResponse(ctx, req.(*SpeakTextResponse))
	}
	return interceptor(ctx, in, info, handler)
}

func sendTextForSpeechHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TTSRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlphaSpeakerServiceServer).SendTextForSpeech(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/SendTextForSpeech",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlphaSpeakerServiceServer).SendTextForSpeech(ctx, req.(*TTSRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func sendAlphaCommandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AlphaCommand)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlphaSpeakerServiceServer).SendAlphaCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/SendAlphaCommand",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlphaSpeakerServiceServer).SendAlphaCommand(ctx, req.(*AlphaCommand))
	}
	return interceptor(ctx, in, info, handler)
}

func getAvailableDevicesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeviceListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlphaSpeakerServiceServer).GetAvailableDevices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/GetAvailableDevices",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlphaSpeakerServiceServer).GetAvailableDevices(ctx, req.(*DeviceListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func keepAliveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlphaSpeakerServiceServer).KeepAlive(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/KeepAlive",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AlphaSpeakerServiceServer).KeepAlive(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamDeviceStatesHandler(srv any, stream grpc.ServerStream) error {
	m := new(StateStreamRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AlphaSpeakerServiceServer).StreamDeviceStates(m, &deviceStateStream{stream})
}

type deviceStateStream struct {
	grpc.ServerStream
}

func (s *deviceStateStream) Send(m *DeviceState) error {
	return s.ServerStream.SendMsg(m)
}

func streamTTSCommandsHandler(srv any, stream grpc.ServerStream) error {
	m := new(StateStreamRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AlphaSpeakerServiceServer).StreamTTSCommands(m, &ttsCommandStream{stream})
}

type ttsCommandStream struct {
	grpc.ServerStream
}

func (s *ttsCommandStream) Send(m *SpeakTextRequest) error {
	return s.ServerStream.SendMsg(m)
}

// AlphaSpeakerServiceDesc is the grpc.ServiceDesc for the AlphaSpeakerService.
var AlphaSpeakerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlphaSpeakerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RegisterAlphaSpeaker",
			Handler:    registerHandler,
		},
		{
			MethodName: "SendTTSResponse",
			Handler:    sendTTSResponseHandler,
		},
		{
			MethodName: "SendTextForSpeech",
			Handler:    sendTextForSpeechHandler,
		},
		{
			MethodName: "SendAlphaCommand",
			Handler:    sendAlphaCommandHandler,
		},
		{
			MethodName: "GetAvailableDevices",
			Handler:    getAvailableDevicesHandler,
		},
		{
			MethodName: "KeepAlive",
			Handler:    keepAliveHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamDeviceStates",
			Handler:       streamDeviceStatesHandler,
			ServerStreams: true,
		},
		{
			StreamName:    "StreamTTSCommands",
			Handler:       streamTTSCommandsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "proto/alpha_speaker.proto",
}
