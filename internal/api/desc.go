package api

import (
	"context"

	intsync "github.com/matheus3301/chatsync/internal/sync"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "chatsync.v1.SyncService"

// SyncServer is the local API served to rendering layers.
type SyncServer interface {
	GetSnapshot(context.Context, *Empty) (*intsync.Snapshot, error)
	ListMessages(context.Context, *ConversationRequest) (*MessagesResponse, error)
	OpenConversation(context.Context, *ConversationRequest) (*MessagesResponse, error)
	LoadOlder(context.Context, *ConversationRequest) (*LoadOlderResponse, error)
	Send(context.Context, *SendRequest) (*MessageResponse, error)
	Retry(context.Context, *RetryRequest) (*MessageResponse, error)
	MarkRead(context.Context, *ConversationRequest) (*Empty, error)
	StartTyping(context.Context, *ConversationRequest) (*Empty, error)
	StopTyping(context.Context, *ConversationRequest) (*Empty, error)
	CreateConversation(context.Context, *CreateConversationRequest) (*ConversationResponse, error)
	DeleteConversation(context.Context, *ConversationRequest) (*Empty, error)
	ReloadConversations(context.Context, *Empty) (*Empty, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[EventEnvelope]) error
}

// RegisterSyncServer registers srv on s.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetSnapshot", SyncServer.GetSnapshot),
		unary("ListMessages", SyncServer.ListMessages),
		unary("OpenConversation", SyncServer.OpenConversation),
		unary("LoadOlder", SyncServer.LoadOlder),
		unary("Send", SyncServer.Send),
		unary("Retry", SyncServer.Retry),
		unary("MarkRead", SyncServer.MarkRead),
		unary("StartTyping", SyncServer.StartTyping),
		unary("StopTyping", SyncServer.StopTyping),
		unary("CreateConversation", SyncServer.CreateConversation),
		unary("DeleteConversation", SyncServer.DeleteConversation),
		unary("ReloadConversations", SyncServer.ReloadConversations),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chatsync/v1/sync",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor of one request/response call.
func unary[Req, Resp any](name string, call func(SyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncServer), ctx, req.(*Req))
			})
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SyncServer).WatchEvents(in, &grpc.GenericServerStream[WatchEventsRequest, EventEnvelope]{ServerStream: stream})
}
