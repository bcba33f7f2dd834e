package backend

import "context"

// NoFeed is a ChangeFeed for backends without realtime.
type NoFeed struct{}

func (NoFeed) Subscribe(context.Context, string, func(Change)) (Subscription, error) {
	return nil, ErrRealtimeUnsupported
}
