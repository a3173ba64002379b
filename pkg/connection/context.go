package connection

import (
	"context"
	"errors"
	"fmt"

	"neurosdk/pkg/api"
	"neurosdk/pkg/protocol"
)

// SendContext forwards an informational message to the controller. Silent
// messages are recorded without prompting a response.
func (c *Conn) SendContext(ctx context.Context, text string, silent bool) error {
	return c.doOpen(ctx, func() error {
		return c.send(protocol.Context{Message: text, Silent: silent})
	})
}

func (c *Conn) receiveContext(msg protocol.Context) {
	c.logger.Debug("Context received", "silent", msg.Silent)
	c.notify(func(l api.Listener) { l.OnContext(c.id, msg.Message, msg.Silent) })
}

// ContextBroadcaster is the context side channel over every connection of a
// manager.
type ContextBroadcaster struct {
	m *Manager
}

// Send forwards a context message on one connection.
func (b ContextBroadcaster) Send(ctx context.Context, connID, text string, silent bool) error {
	c, err := b.m.Conn(connID)
	if err != nil {
		return err
	}
	return c.SendContext(ctx, text, silent)
}

// Broadcast sends a context message on every open connection.
func (b ContextBroadcaster) Broadcast(ctx context.Context, text string, silent bool) error {
	var errs []error
	for _, c := range b.m.Connections() {
		if c.State() != api.StateOpen {
			continue
		}
		if err := c.SendContext(ctx, text, silent); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}
