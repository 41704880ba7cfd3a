package grpcstream

import (
	"context"
	"fmt"
	"time"

	"github.com/chrissnell/telematics/internal/types"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The alert stream is a single server-streaming method. Requests and alerts
// travel as google.protobuf.Struct, so clients need no generated stubs:
//
//	rpc Subscribe(google.protobuf.Struct) returns (stream google.protobuf.Struct)
//
// The request may carry a "kinds" list to filter alert kinds.
const (
	ServiceName     = "telematics.AlertStream"
	SubscribeMethod = "/" + ServiceName + "/Subscribe"
)

// AlertStreamServer is the server API for the alert stream
type AlertStreamServer interface {
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

var alertStreamDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlertStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "telematics/alertstream",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(AlertStreamServer).Subscribe(req, stream)
}

// RegisterAlertStreamServer registers srv on s
func RegisterAlertStreamServer(s grpc.ServiceRegistrar, srv AlertStreamServer) {
	s.RegisterService(&alertStreamDesc, srv)
}

// SubscribeRequest builds a request for the given kinds; no kinds means all
func SubscribeRequest(kinds ...types.AlertKind) (*structpb.Struct, error) {
	list := make([]interface{}, len(kinds))
	for i, k := range kinds {
		list[i] = string(k)
	}
	return structpb.NewStruct(map[string]interface{}{"kinds": list})
}

// AlertReceiver reads alerts from an open subscription
type AlertReceiver struct {
	stream grpc.ClientStream
}

// Subscribe opens an alert stream on conn
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, kinds ...types.AlertKind) (*AlertReceiver, error) {
	stream, err := conn.NewStream(ctx, &alertStreamDesc.Streams[0], SubscribeMethod)
	if err != nil {
		return nil, err
	}

	req, err := SubscribeRequest(kinds...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &AlertReceiver{stream: stream}, nil
}

// Recv blocks until the next alert arrives
func (r *AlertReceiver) Recv() (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := r.stream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// AlertToStruct flattens an alert into a Struct. Envelope fields sit at the
// top level and the detector output under "alert".
func AlertToStruct(a types.Alert) (*structpb.Struct, error) {
	var body map[string]interface{}
	switch {
	case a.Speed != nil:
		body = map[string]interface{}{
			"timestamp":  a.Speed.Timestamp,
			"vehicle_id": a.Speed.VehicleID,
			"speed":      a.Speed.Speed,
			"highway":    a.Speed.Highway,
			"lane":       a.Speed.Lane,
			"direction":  int(a.Speed.Direction),
			"segment":    a.Speed.Segment,
			"position":   a.Speed.Position,
		}
	case a.Accident != nil:
		body = map[string]interface{}{
			"vehicle_id": a.Accident.VehicleID,
			"highway":    a.Accident.Highway,
			"lane":       a.Accident.Lane,
			"direction":  int(a.Accident.Direction),
			"segment":    a.Accident.Segment,
			"position":   a.Accident.Position,
			"start_time": a.Accident.StartTime,
			"end_time":   a.Accident.EndTime,
		}
	case a.AvgSpeed != nil:
		body = map[string]interface{}{
			"vehicle_id":    a.AvgSpeed.VehicleID,
			"highway":       a.AvgSpeed.Highway,
			"direction":     int(a.AvgSpeed.Direction),
			"entry_time":    a.AvgSpeed.EntryTime,
			"exit_time":     a.AvgSpeed.ExitTime,
			"average_speed": a.AvgSpeed.AverageSpeed,
		}
	default:
		return nil, fmt.Errorf("alert %s carries no payload", a.ID)
	}

	return structpb.NewStruct(map[string]interface{}{
		"id":          a.ID.String(),
		"kind":        string(a.Kind),
		"detected_at": a.DetectedAt.UTC().Format(time.RFC3339Nano),
		"alert":       body,
	})
}

func requestedKinds(req *structpb.Struct) (map[types.AlertKind]bool, error) {
	v, ok := req.GetFields()["kinds"]
	if !ok || len(v.GetListValue().GetValues()) == 0 {
		return nil, nil
	}

	kinds := make(map[types.AlertKind]bool)
	for _, item := range v.GetListValue().GetValues() {
		k, ok := types.ParseAlertKind(item.GetStringValue())
		if !ok {
			return nil, fmt.Errorf("unknown alert kind %q", item.GetStringValue())
		}
		kinds[k] = true
	}
	return kinds, nil
}
