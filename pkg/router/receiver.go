package router

import (
	"context"
	"fmt"

	"github.com/newtron-network/simplerouter/pkg/util"
)

// PacketSource delivers packet-in payloads in device order.
type PacketSource interface {
	Receive(ctx context.Context) ([]byte, error)
}

// Dispatcher accepts packet-in payloads without blocking.
type Dispatcher interface {
	DispatchPacket(raw []byte)
}

// Receiver moves packet-in payloads from the device stream to the engine,
// keeping exactly one receive outstanding.
type Receiver struct {
	device string
	src    PacketSource
	dst    Dispatcher
}

// NewReceiver creates a receiver for the named device.
func NewReceiver(device string, src PacketSource, dst Dispatcher) *Receiver {
	return &Receiver{device: device, src: src, dst: dst}
}

// Run receives until ctx is cancelled (returning nil) or the stream fails
// (returning an error wrapping ErrStreamTerminated). The stream is not
// reopened.
func (rc *Receiver) Run(ctx context.Context) error {
	log := util.WithDevice(rc.device)
	log.Infof("packet-in receiver started")
	var n uint64
	for {
		raw, err := rc.src.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("packet-in receiver stopped after %d packets", n)
				return nil
			}
			log.Errorf("packet-in stream failed after %d packets: %v", n, err)
			return fmt.Errorf("%w: %s: %v", util.ErrStreamTerminated, rc.device, err)
		}
		n++
		rc.dst.DispatchPacket(raw)
	}
}
