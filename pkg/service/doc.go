// Package service exposes a broker over the network.
//
// A Service listens on a TCP or unix socket and serves every connection as
// one client identity. Requests on a connection are handled in order:
//
//   - Get reads values without subscribing
//   - GetSubscriber returns the connection's subscriber handle
//   - Subscribe and Unsubscribe change what the subscriber receives
//   - Provide and Commit let the connection act as a provider
//   - NumberOfSubscribers and ListKeys report broker state
//
// Responses and Changed notifications for a connection are queued in the
// order the broker produced them, so a Subscribe reply always precedes the
// first change it could miss. Closing the connection releases the
// subscriber and unregisters any keys the connection provided.
//
// Client is the other end of the protocol, used by the command line tools:
//
//	c, err := service.Dial(ctx, "tcp", "localhost:7420")
//	handle, err := c.GetSubscriber(ctx)
//	c.OnChanged(func(r broker.Result) { ... })
//	res, err := c.Subscribe(ctx, handle, []string{"Battery.OnBattery"})
package service
