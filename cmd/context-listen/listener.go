package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/connection"
	"github.com/contextkit/contextd/pkg/discovery"
	"github.com/contextkit/contextd/pkg/service"
)

var errNoKeys = errors.New("at least one key is required")

// listener runs commands over one broker connection.
type listener struct {
	client *service.Client
	out    io.Writer
}

func (l *listener) get(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return errNoKeys
	}
	res, err := l.client.Get(ctx, keys)
	if err != nil {
		return err
	}
	printResult(l.out, res, keys)
	return nil
}

// subscribe prints the current values of keys, then every change until ctx
// is done or the broker goes away.
func (l *listener) subscribe(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return errNoKeys
	}

	changes := make(chan broker.Result, 64)
	l.client.OnChanged(func(r broker.Result) {
		select {
		case changes <- r:
		case <-ctx.Done():
		}
	})

	sub, err := l.client.GetSubscriber(ctx)
	if err != nil {
		return err
	}
	res, err := l.client.Subscribe(ctx, sub, keys)
	if err != nil {
		return err
	}
	printResult(l.out, res, keys)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.client.Done():
			return service.ErrClientClosed
		case r := <-changes:
			printResult(l.out, r, nil)
		}
	}
}

// watch subscribes to keys and keeps the subscription alive across broker
// restarts, dialing again with backoff whenever the connection is lost.
// Status messages go to status.
func watch(ctx context.Context, network, address string, keys []string, out, status io.Writer) error {
	backoff := connection.NewBackoff(connection.DefaultConfig())
	for {
		var client *service.Client
		err := connection.Retry(ctx, backoff, func(ctx context.Context) error {
			c, err := service.Dial(ctx, network, address)
			if err != nil {
				return err
			}
			client = c
			return nil
		}, func(attempt int, delay time.Duration, err error) {
			fmt.Fprintf(status, "connect failed (attempt %d): %v, retrying in %s\n", attempt, err, delay.Round(time.Millisecond))
		})
		if err != nil {
			return nil
		}

		l := &listener{client: client, out: out}
		err = l.subscribe(ctx, keys)
		client.Close()
		if !errors.Is(err, service.ErrClientClosed) {
			return err
		}
		fmt.Fprintln(status, "broker connection lost, reconnecting")
	}
}

func (l *listener) keys(ctx context.Context) error {
	provided, subscribed, err := l.client.ListKeys(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(l.out, "Provided (%d):\n", len(provided))
	for _, k := range provided {
		fmt.Fprintf(l.out, "  %s\n", k)
	}
	fmt.Fprintf(l.out, "Subscribed (%d):\n", len(subscribed))
	for _, k := range subscribed {
		fmt.Fprintf(l.out, "  %s\n", k)
	}
	return nil
}

func (l *listener) count(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return errNoKeys
	}
	counts, err := l.client.NumberOfSubscribers(ctx, keys)
	if err != nil {
		return err
	}
	for _, k := range keys {
		fmt.Fprintf(l.out, "%s: %d\n", k, counts[k])
	}
	return nil
}

// printResult prints one line per key. Keys named in order come first in
// that order; the rest follow sorted. Requested keys missing from r are
// reported unknown.
func printResult(w io.Writer, r broker.Result, order []string) {
	undetermined := make(map[string]bool, len(r.Undeterminable))
	for _, k := range r.Undeterminable {
		undetermined[k] = true
	}

	seen := make(map[string]bool)
	line := func(k string) {
		if seen[k] {
			return
		}
		seen[k] = true
		switch v, ok := r.Values[k]; {
		case ok:
			fmt.Fprintf(w, "%s = %s\n", k, v)
		case undetermined[k]:
			fmt.Fprintf(w, "%s is undetermined\n", k)
		default:
			fmt.Fprintf(w, "%s is unknown\n", k)
		}
	}

	for _, k := range order {
		line(k)
	}
	rest := slices.Sorted(maps.Keys(r.Values))
	rest = append(rest, r.Undeterminable...)
	slices.Sort(rest)
	for _, k := range rest {
		line(k)
	}
}

func printBroker(w io.Writer, svc *discovery.BrokerService) {
	network, address, err := svc.Endpoint()
	if err != nil {
		address = "unreachable"
	}
	fmt.Fprintf(w, "%s  %s %s  host=%s keys=%d version=%s\n",
		svc.Instance, network, address, svc.Info.Host, svc.Info.KeyCount, svc.Info.Version)
	if len(svc.Addresses) > 1 {
		fmt.Fprintf(w, "    addresses: %s\n", strings.Join(svc.Addresses, ", "))
	}
}
