// Command context-listen reads and watches context properties.
//
// Usage:
//
//	context-listen [flags] <command> [keys...]
//
// Commands:
//
//	get        Print the current values of keys
//	subscribe  Print the values of keys and every change until interrupted
//	keys       List the provided and the subscribed keys
//	count      Print the number of subscribers of keys
//	browse     List brokers advertised over mDNS
//
// Examples:
//
//	# Read the battery state once
//	context-listen get Battery.OnBattery Battery.ChargePercentage
//
//	# Watch memory pressure on a unix socket broker
//	context-listen -network unix -addr /run/contextd.sock subscribe System.MemoryPressure
//
//	# Keep watching across broker restarts
//	context-listen -reconnect subscribe Battery.OnBattery
//
//	# Use the first broker found over mDNS
//	context-listen -discover "" keys
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/contextkit/contextd/pkg/discovery"
	"github.com/contextkit/contextd/pkg/service"
	"github.com/contextkit/contextd/pkg/transport"
)

const usage = `context-listen - Context Property Listener

Usage:
  context-listen [flags] <command> [keys...]

Commands:
  get        Print the current values of keys
  subscribe  Print the values of keys and every change until interrupted
  keys       List the provided and the subscribed keys
  count      Print the number of subscribers of keys
  browse     List brokers advertised over mDNS

Flags:
`

var (
	network   = flag.String("network", transport.DefaultNetwork, "Broker network: tcp, unix")
	addr      = flag.String("addr", fmt.Sprintf("localhost:%d", transport.DefaultPort), "Broker address")
	discover  = flag.String("discover", "-", "Find the broker over mDNS by instance name (empty: first found)")
	timeout   = flag.Duration("timeout", 10*time.Second, "Request and discovery timeout")
	reconnect = flag.Bool("reconnect", false, "subscribe: reconnect and resubscribe when the broker goes away")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == "browse" {
		if err := browse(ctx, os.Stdout); err != nil {
			fail(err)
		}
		return
	}

	net, address := *network, *addr
	if *discover != "-" {
		var err error
		net, address, err = find(ctx, *discover)
		if err != nil {
			fail(err)
		}
	}

	if cmd == "subscribe" && *reconnect {
		if err := watch(ctx, net, address, args, os.Stdout, os.Stderr); err != nil {
			fail(err)
		}
		return
	}

	client, err := service.Dial(ctx, net, address)
	if err != nil {
		fail(fmt.Errorf("failed to connect to %s: %w", address, err))
	}
	defer client.Close()
	client.SetTimeout(*timeout)

	l := &listener{client: client, out: os.Stdout}
	switch cmd {
	case "get":
		err = l.get(ctx, args)
	case "subscribe":
		err = l.subscribe(ctx, args)
	case "keys":
		err = l.keys(ctx)
	case "count":
		err = l.count(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		client.Close()
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// find resolves a broker advertised over mDNS.
func find(ctx context.Context, instance string) (network, address string, err error) {
	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return "", "", err
	}
	defer browser.Stop()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	svc, err := browser.Find(ctx, instance)
	if err != nil {
		return "", "", fmt.Errorf("failed to find broker: %w", err)
	}
	return svc.Endpoint()
}

// browse prints brokers as they are found until the timeout.
func browse(ctx context.Context, w io.Writer) error {
	browser, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return err
	}
	defer browser.Stop()

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	found, err := browser.Browse(ctx)
	if err != nil {
		return err
	}
	for svc := range found {
		printBroker(w, svc)
	}
	return nil
}
