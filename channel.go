package autohands

import "context"

// Channel is a destination a task handler's result can be routed back
// to: an HTTP webhook callback, a WebSocket connection, or any other
// external surface the RunLoop talks back to. Channels register under a
// ChannelID and replies address them by (ChannelID, ConnectionID).
type Channel interface {
	// ChannelID identifies this channel for ChannelRegistry lookups and
	// satisfies Identifiable for Registry[Channel].
	ChannelID() string
	// Send delivers a new message to connectionID on this channel.
	Send(ctx context.Context, connectionID, text string) error
	// Edit updates a previously sent message, identified by messageID.
	Edit(ctx context.Context, connectionID, messageID, text string) error
}

// channelAdapter lets a Channel satisfy Identifiable without every
// implementation needing to spell out RegistryID itself.
type channelAdapter struct{ Channel }

func (c channelAdapter) RegistryID() string { return c.ChannelID() }

// ChannelRegistry maps ChannelID to a live Channel implementation. Built
// on the generic Registry.
type ChannelRegistry struct {
	reg *Registry[channelAdapter]
}

// NewChannelRegistry creates an empty channel registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{reg: NewRegistry[channelAdapter]()}
}

// Register adds ch, keyed by ch.ChannelID().
func (r *ChannelRegistry) Register(ch Channel) error {
	return r.reg.Register(channelAdapter{ch})
}

// Unregister removes the channel with the given id.
func (r *ChannelRegistry) Unregister(id string) error {
	return r.reg.Unregister(id)
}

// Get returns the channel registered under id, or ErrChannelGone.
func (r *ChannelRegistry) Get(id string) (Channel, error) {
	a, ok := r.reg.Get(id)
	if !ok {
		return nil, &ErrChannelGone{ChannelID: id}
	}
	return a.Channel, nil
}

// Route delivers text to the destination named by addr, via Send.
// Returns ErrChannelGone if addr's channel is no longer registered.
func (r *ChannelRegistry) Route(ctx context.Context, addr *ReplyAddress, text string) error {
	if addr == nil {
		return nil
	}
	ch, err := r.Get(addr.ChannelID)
	if err != nil {
		return err
	}
	return ch.Send(ctx, addr.ConnectionID, text)
}
