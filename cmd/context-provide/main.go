// Command context-provide provides context properties from the terminal.
//
// It connects to a broker, provides the keys given on the command line and
// reads commands that set their values. Subscription changes reported by
// the broker are printed as they happen.
//
// Usage:
//
//	context-provide [flags] [key=value...]
//
// Examples:
//
//	# Provide two keys with initial values
//	context-provide Screen.Blanked=false Device.Model=n900
//
//	# Provide against a unix socket broker
//	context-provide -network unix -addr /run/contextd.sock Session.State=idle
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/contextkit/contextd/pkg/service"
	"github.com/contextkit/contextd/pkg/transport"
)

var (
	network = flag.String("network", transport.DefaultNetwork, "Broker network: tcp, unix")
	addr    = flag.String("addr", fmt.Sprintf("localhost:%d", transport.DefaultPort), "Broker address")
)

func main() {
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := service.Dial(ctx, *network, *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to connect to %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer client.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "provide> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	sh := newShell(client, rl.Stdout())
	if err := sh.setup(ctx, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	go func() {
		select {
		case <-client.Done():
			fmt.Fprintln(rl.Stderr(), "Broker connection lost")
			cancel()
			rl.Close()
		case <-ctx.Done():
		}
	}()

	sh.printHelp()
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			return
		}
		if sh.execute(ctx, line) {
			return
		}
	}
}

// setup provides the keys of key=value arguments and commits their values.
func (s *shell) setup(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}

	keys := make([]string, 0, len(args))
	for _, arg := range args {
		key, _, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid argument %q (want key=value)", arg)
		}
		keys = append(keys, key)
	}
	if err := s.cmdProvide(ctx, keys); err != nil {
		return err
	}
	for _, arg := range args {
		key, text, _ := strings.Cut(arg, "=")
		if err := s.cmdSet(ctx, []string{key, text}); err != nil {
			return err
		}
	}
	return nil
}
