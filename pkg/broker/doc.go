// Package broker is the core of contextd: it keeps one cache of context
// property values, tracks which clients subscribe to which keys and routes
// lookups and subscription edges to the providers that own the keys.
//
// # Roles
//
//   - A Provider owns a fixed set of keys. It answers lookups and is told
//     when its keys gain their first or lose their last subscriber.
//   - A Subscriber is the state of one client identity. Subscribe returns
//     the current values, and later changes arrive through OnChanged,
//     filtered down to the subscribed keys.
//   - The Manager owns both and the cache. Providers publish values by
//     committing a ChangeSet.
//
// # Example
//
//	m := broker.NewManager()
//	go m.Run(ctx)
//
//	m.Register(batteryProvider)
//
//	s := m.GetSubscriber(connID)
//	s.OnChanged(func(r broker.Result) { queue(r) })
//	res, _ := s.Subscribe([]string{"Battery.ChargePercentage"})
//
//	m.NewChangeSet().AddInt("Battery.ChargePercentage", 80).Commit()
//
// # Undeterminable Keys
//
// A key that no provider owns and a key whose provider has no value both
// come back in Result.Undeterminable. Values never carries absent values.
package broker
