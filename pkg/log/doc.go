// Package log captures structured broker events.
//
// Event capture is separate from operational logging (slog): it records a
// machine-readable trace of what the broker did, at several layers, for
// later inspection with the context-log tool.
//
// # Basic Usage
//
//	// Console, during development
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// File, for later analysis
//	fl, err := log.NewFileLogger("/var/log/contextd/events.clog")
//	cfg.EventLogger = fl
//
//	// Both
//	cfg.EventLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - Transport: raw frames (FrameEvent) and control messages (ControlMsgEvent)
//   - Wire: decoded requests, responses and notifications (MessageEvent)
//   - Broker: subscription changes (SubscriptionEvent), applied or rejected
//     change sets (CommitEvent), subscriber and provider lifecycle
//     (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
package log
