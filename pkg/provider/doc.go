// Package provider is the provider side of contextd: a Service owns a fixed
// set of keys, keeps their current values and commits every change to a
// broker.Manager.
//
//	svc, _ := provider.NewService("Screen.Blanked")
//	blanked, _ := svc.Property("Screen.Blanked")
//	blanked.OnFirstSubscriber(startWatching)
//	blanked.OnLastSubscriber(stopWatching)
//	svc.Install(manager)
//
//	blanked.SetBool(true)
//
// Hooks let a provider keep its value source running only while somebody
// listens. A Group joins the hooks of properties that share one source.
package provider
