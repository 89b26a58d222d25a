// Package connection re-establishes broker connections after they are lost.
//
// Clients that must survive a broker restart, such as a long-running
// subscriber, dial through Retry. Failed attempts are spaced by exponential
// backoff:
//
//  1. Initial delay: 500 milliseconds
//  2. Each failure doubles the delay
//  3. Maximum delay: 30 seconds
//  4. Reset to the initial delay once connected
//
// # Jitter
//
// Every delay is stretched by a random fraction so that subscribers of a
// restarted broker do not all reconnect at the same instant:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
