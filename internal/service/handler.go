package service

import (
	"context"

	telenet "github.com/cubesat-eps/eps/tele/net"
	"github.com/cubesat-eps/eps/telemetry"
)

// Handler produces reply record for request on registered port.
// Error means reply is telemetry.FaultRecord.
type Handler interface {
	Handle(ctx context.Context, req *telenet.Packet) (telemetry.Record, error)
}

type HandlerFunc func(ctx context.Context, req *telenet.Packet) (telemetry.Record, error)

func (f HandlerFunc) Handle(ctx context.Context, req *telenet.Packet) (telemetry.Record, error) {
	return f(ctx, req)
}

type Collector interface {
	Collect(ctx context.Context) (telemetry.Record, error)
}

// CollectHandler ignores request payload and replies with fresh telemetry.
func CollectHandler(c Collector) Handler {
	return HandlerFunc(func(ctx context.Context, _ *telenet.Packet) (telemetry.Record, error) {
		return c.Collect(ctx)
	})
}

// SentinelHandler always replies with zero record.
var SentinelHandler Handler = HandlerFunc(func(context.Context, *telenet.Packet) (telemetry.Record, error) {
	return telemetry.Sentinel, nil
})
