package device

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// PacketIn is a subscription to the device's packet-in channel.
type PacketIn struct {
	sub *redis.PubSub
}

// SubscribePacketIn subscribes to packet-in notifications. The subscription
// is confirmed before returning, so no packet published afterwards is lost.
func (c *Client) SubscribePacketIn(ctx context.Context) (*PacketIn, error) {
	sub := c.appl.Subscribe(ctx, PacketInChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", PacketInChannel, err)
	}
	return &PacketIn{sub: sub}, nil
}

// Receive blocks for the next packet-in payload.
func (p *PacketIn) Receive(ctx context.Context) ([]byte, error) {
	msg, err := p.sub.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

// Close ends the subscription. A pending Receive returns an error.
func (p *PacketIn) Close() error {
	return p.sub.Close()
}
