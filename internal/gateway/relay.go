package gateway

import (
	"context"
	"encoding/json"

	redisstore "tickertracker/internal/store/redis"

	goredis "github.com/go-redis/redis/v8"
)

// RunRelay forwards toasts published on Redis (by this or any other alertd
// instance) to the hub's clients. Blocks until ctx is cancelled.
func (h *Hub) RunRelay(ctx context.Context, rdb *goredis.Client) {
	pubsub := rdb.Subscribe(ctx, redisstore.ChannelToast)
	defer pubsub.Close()

	h.log.Info("relaying redis toasts", "channel", redisstore.ChannelToast)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !json.Valid([]byte(msg.Payload)) {
				h.log.Warn("dropping malformed toast", "payload", msg.Payload)
				continue
			}
			h.Broadcaster.Broadcast(TypeToast, "", []byte(msg.Payload))
		}
	}
}
