package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/contextkit/contextd/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Keys              map[string]*KeyStats
	Commits           int
	RejectedCommits   int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single connection.
type ConnectionStats struct {
	FirstSeen     time.Time
	LastSeen      time.Time
	Events        int
	Subscriptions int
}

// KeyStats holds statistics for a single key.
type KeyStats struct {
	Changes       int
	Undetermined  int
	Subscribes    int
	Unsubscribes  int
	FirstSubEdges int
	LastSubEdges  int
}

func newStats() *Stats {
	return &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Keys:              make(map[string]*KeyStats),
	}
}

func (s *Stats) key(k string) *KeyStats {
	ks, ok := s.Keys[k]
	if !ok {
		ks = &KeyStats{}
		s.Keys[k] = ks
	}
	return ks
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	if event.ConnectionID != "" {
		conn, ok := s.Connections[event.ConnectionID]
		if !ok {
			conn = &ConnectionStats{
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			s.Connections[event.ConnectionID] = conn
		}
		conn.Events++
		if event.Timestamp.After(conn.LastSeen) {
			conn.LastSeen = event.Timestamp
		}
		if event.Subscription != nil {
			conn.Subscriptions++
		}
	}

	if sub := event.Subscription; sub != nil {
		for _, k := range sub.Keys {
			switch sub.Action {
			case log.SubscriptionActionSubscribe:
				s.key(k).Subscribes++
			default:
				s.key(k).Unsubscribes++
			}
		}
		for _, k := range sub.FirstSubscribed {
			s.key(k).FirstSubEdges++
		}
		for _, k := range sub.LastUnsubscribed {
			s.key(k).LastSubEdges++
		}
	}

	if c := event.Commit; c != nil {
		s.Commits++
		if !c.Accepted {
			s.RejectedCommits++
		} else {
			for _, k := range c.Changed {
				s.key(k).Changes++
			}
			for _, k := range c.Undetermined {
				s.key(k).Undetermined++
			}
		}
	}

	if event.Error != nil {
		s.Errors++
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := newStats()
	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Context Broker Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerBroker, log.LayerService} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for c := log.CategoryMessage; c <= log.CategoryCommit; c++ {
		if count := stats.EventsByCategory[c]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", c.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if stats.Commits > 0 {
		fmt.Fprintf(w, "Commits: %d (%d rejected)\n", stats.Commits, stats.RejectedCommits)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenConnID(c.id), c.stats.Events, duration)
			if c.stats.Subscriptions > 0 {
				fmt.Fprintf(w, "           Subscription changes: %d\n", c.stats.Subscriptions)
			}
		}
	}

	if len(stats.Keys) > 0 {
		keys := make([]string, 0, len(stats.Keys))
		for k := range stats.Keys {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(w)
		fmt.Fprintf(w, "Keys: %d\n", len(keys))
		for _, k := range keys {
			ks := stats.Keys[k]
			fmt.Fprintf(w, "  %s: %d changes, %d undetermined, %d subscribes, %d unsubscribes\n",
				k, ks.Changes, ks.Undetermined, ks.Subscribes, ks.Unsubscribes)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
