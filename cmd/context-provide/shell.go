package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/contextkit/contextd/pkg/service"
	"github.com/contextkit/contextd/pkg/value"
)

var errUsage = errors.New("usage")

// shell provides keys over one broker connection and sets their values from
// typed commands.
type shell struct {
	client *service.Client

	mu         sync.Mutex
	out        io.Writer
	provided   map[string]value.Value
	subscribed map[string]bool
}

func newShell(client *service.Client, out io.Writer) *shell {
	s := &shell{
		client:     client,
		out:        out,
		provided:   make(map[string]value.Value),
		subscribed: make(map[string]bool),
	}
	client.OnKeysSubscribed(s.keysSubscribed)
	client.OnKeysUnsubscribed(s.keysUnsubscribed)
	return s
}

func (s *shell) keysSubscribed(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.subscribed[k] = true
	}
	fmt.Fprintf(s.out, "[subscribed] %s\n", strings.Join(keys, ", "))
}

func (s *shell) keysUnsubscribed(keys, _ []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.subscribed, k)
	}
	fmt.Fprintf(s.out, "[unsubscribed] %s\n", strings.Join(keys, ", "))
}

// execute runs one command line. It returns true when the shell should
// exit.
func (s *shell) execute(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		s.printHelp()
	case "provide", "p":
		err = s.cmdProvide(ctx, args)
	case "set", "s":
		err = s.cmdSet(ctx, args)
	case "unset", "u":
		err = s.cmdUnset(ctx, args)
	case "list", "ls":
		s.cmdList()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
		return false
	}

	if errors.Is(err, errUsage) {
		s.printHelp()
	} else if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
Context Provider Commands:
  provide <key>...           - Provide keys (adds to the keys already provided)
  set <key> <value> [type]   - Set a value (type: int, double, bool, string)
  unset <key>...             - Mark keys undetermined
  list                       - Show provided keys, values and subscription state
  quit                       - Exit`)
}

func (s *shell) cmdProvide(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return errUsage
	}

	s.mu.Lock()
	all := slices.Collect(maps.Keys(s.provided))
	s.mu.Unlock()
	all = append(all, keys...)
	slices.Sort(all)
	all = slices.Compact(all)

	if err := s.client.Provide(ctx, all); err != nil {
		return err
	}

	s.mu.Lock()
	for _, k := range keys {
		if _, ok := s.provided[k]; !ok {
			s.provided[k] = value.Absent()
		}
	}
	s.mu.Unlock()
	fmt.Fprintf(s.out, "Providing %d keys\n", len(all))
	return nil
}

func (s *shell) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	key, text := args[0], args[1]

	v := value.Guess(text)
	if len(args) == 3 {
		kind, err := value.ParseKind(args[2])
		if err != nil {
			return err
		}
		if v, err = value.Parse(kind, text); err != nil {
			return err
		}
	}

	if err := s.client.Commit(ctx, map[string]value.Value{key: v}, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.provided[key] = v
	s.mu.Unlock()
	fmt.Fprintf(s.out, "%s = %s\n", key, v)
	return nil
}

func (s *shell) cmdUnset(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return errUsage
	}
	if err := s.client.Commit(ctx, nil, keys); err != nil {
		return err
	}
	s.mu.Lock()
	for _, k := range keys {
		s.provided[k] = value.Absent()
	}
	s.mu.Unlock()
	fmt.Fprintf(s.out, "%s undetermined\n", strings.Join(keys, ", "))
	return nil
}

func (s *shell) cmdList() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.provided) == 0 {
		fmt.Fprintln(s.out, "No keys provided")
		return
	}
	for _, k := range slices.Sorted(maps.Keys(s.provided)) {
		v := s.provided[k]
		state := "idle"
		if s.subscribed[k] {
			state = "subscribed"
		}
		if v.IsAbsent() {
			fmt.Fprintf(s.out, "  %-32s undetermined  (%s)\n", k, state)
		} else {
			fmt.Fprintf(s.out, "  %-32s %s  (%s)\n", k, v, state)
		}
	}
}
