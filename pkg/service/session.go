package service

import (
	"errors"
	"slices"
	"time"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/keyset"
	"github.com/contextkit/contextd/pkg/log"
	"github.com/contextkit/contextd/pkg/transport"
	"github.com/contextkit/contextd/pkg/value"
	"github.com/contextkit/contextd/pkg/wire"
)

// session is the broker side of one connection. Requests arrive one at a
// time from the connection's read goroutine, so calls from the same client
// are linearized. The connection ID doubles as the client identity and as
// the subscriber handle.
type session struct {
	service *Service
	conn    transport.ServerConnection

	// Touched only from the read goroutine and close.
	subscriber *broker.Subscriber
	provider   *remoteProvider
}

func newSession(s *Service, conn transport.ServerConnection) *session {
	return &session{service: s, conn: conn}
}

func (ss *session) identity() string {
	return ss.conn.ConnID()
}

// handle decodes and dispatches one request. Malformed frames are logged
// and dropped.
func (ss *session) handle(data []byte) {
	start := time.Now()

	req, err := wire.DecodeRequest(data)
	if err != nil {
		ss.service.logger.Warn("dropping malformed request", "conn", ss.identity(), "error", err)
		ss.logError(err, "decode request")
		return
	}
	ss.logMessage(log.DirectionIn, log.MessageTypeRequest, req.MessageID, &req.Operation, nil, nil)

	if resp := ss.dispatch(req); resp != nil {
		ss.sendResponse(resp, start)
	}
}

// dispatch runs a request. It returns nil when the response was already
// sent.
func (ss *session) dispatch(req *wire.Request) *wire.Response {
	switch req.Operation {
	case wire.OpGet:
		return ss.handleGet(req)
	case wire.OpGetSubscriber:
		return ss.handleGetSubscriber(req)
	case wire.OpSubscribe:
		return ss.handleSubscribe(req)
	case wire.OpUnsubscribe:
		return ss.handleUnsubscribe(req)
	case wire.OpProvide:
		return ss.handleProvide(req)
	case wire.OpCommit:
		return ss.handleCommit(req)
	case wire.OpNumberOfSubscribers:
		return ss.handleNumberOfSubscribers(req)
	case wire.OpListKeys:
		return ss.handleListKeys(req)
	default:
		return errorResponse(req.MessageID, wire.StatusUnsupported, "unsupported operation")
	}
}

func (ss *session) handleGet(req *wire.Request) *wire.Response {
	var p wire.KeysPayload
	if err := req.DecodePayload(&p); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}
	res := ss.service.manager.Get(p.Keys)
	return successResponse(req.MessageID, valuesPayload(res))
}

func (ss *session) handleGetSubscriber(req *wire.Request) *wire.Response {
	if ss.subscriber == nil {
		sub := ss.service.manager.GetSubscriber(ss.identity())
		sub.OnChanged(ss.sendChanged)
		ss.subscriber = sub
	}
	return successResponse(req.MessageID, &wire.SubscriberPayload{Subscriber: ss.identity()})
}

func (ss *session) handleSubscribe(req *wire.Request) *wire.Response {
	start := time.Now()

	var p wire.SubscribePayload
	if err := req.DecodePayload(&p); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}
	sub, resp := ss.lookupSubscriber(req.MessageID, p.Subscriber)
	if resp != nil {
		return resp
	}

	// The reply is queued while the broker lock is held, ahead of any
	// Changed notification for the same keys.
	err := sub.SubscribeFunc(p.Keys, func(res broker.Result) {
		ss.sendResponse(successResponse(req.MessageID, valuesPayload(res)), start)
	})
	if err != nil {
		return brokerErrorResponse(req.MessageID, err)
	}
	return nil
}

func (ss *session) handleUnsubscribe(req *wire.Request) *wire.Response {
	var p wire.SubscribePayload
	if err := req.DecodePayload(&p); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}
	sub, resp := ss.lookupSubscriber(req.MessageID, p.Subscriber)
	if resp != nil {
		return resp
	}
	if err := sub.Unsubscribe(p.Keys); err != nil {
		return brokerErrorResponse(req.MessageID, err)
	}
	return successResponse(req.MessageID, nil)
}

func (ss *session) lookupSubscriber(id uint32, handle string) (*broker.Subscriber, *wire.Response) {
	if ss.subscriber == nil || handle != ss.identity() {
		return nil, errorResponse(id, wire.StatusUnknownSubscriber, "unknown subscriber "+handle)
	}
	return ss.subscriber, nil
}

// handleProvide registers the connection as provider of the requested keys.
// Providing again extends the key set; the replacement proxy is registered
// before the old one goes so no key is lost in between.
func (ss *session) handleProvide(req *wire.Request) *wire.Response {
	var p wire.KeysPayload
	if err := req.DecodePayload(&p); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}
	if len(p.Keys) == 0 {
		return errorResponse(req.MessageID, wire.StatusInvalidRequest, "no keys to provide")
	}

	keys := keyset.New(p.Keys...)
	old := ss.provider
	if old != nil {
		keys = keyset.Union(keys, old.keys)
	}

	proxy := newRemoteProvider(keys, ss.sendNotification)
	if old != nil {
		proxy.takeOver(old)
	}

	m := ss.service.manager
	if err := m.Register(proxy); err != nil {
		return brokerErrorResponse(req.MessageID, err)
	}
	if old != nil {
		if err := m.Unregister(old); err != nil {
			ss.service.logger.Warn("failed to unregister replaced provider", "conn", ss.identity(), "error", err)
		}
	}
	ss.provider = proxy

	ss.service.logger.Info("remote provider registered", "conn", ss.identity(), "keys", keys.Len())
	ss.service.RefreshAdvertisement()
	return successResponse(req.MessageID, nil)
}

func (ss *session) handleCommit(req *wire.Request) *wire.Response {
	if ss.provider == nil {
		return errorResponse(req.MessageID, wire.StatusInvalidRequest, "connection provides no keys")
	}

	var p wire.ValuesPayload
	if err := req.DecodePayload(&p); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}

	values, undetermined := splitAbsent(p)
	if foreign := ss.provider.foreign(values, undetermined); len(foreign) > 0 {
		slices.Sort(foreign)
		return errorResponse(req.MessageID, wire.StatusInvalidKey, "keys not provided by this connection", foreign...)
	}

	ss.provider.update(values, undetermined)
	if err := ss.service.manager.PropertyValuesChanged(values, undetermined); err != nil {
		return brokerErrorResponse(req.MessageID, err)
	}
	return successResponse(req.MessageID, nil)
}

func (ss *session) handleNumberOfSubscribers(req *wire.Request) *wire.Response {
	var p wire.KeysPayload
	if err := req.DecodePayload(&p); err != nil {
		return errorResponse(req.MessageID, wire.StatusInvalidRequest, err.Error())
	}
	counts := make(map[string]uint32, len(p.Keys))
	for _, k := range p.Keys {
		counts[k] = uint32(ss.service.manager.NumberOfSubscribers(k))
	}
	return successResponse(req.MessageID, &wire.CountsPayload{Counts: counts})
}

func (ss *session) handleListKeys(req *wire.Request) *wire.Response {
	m := ss.service.manager
	return successResponse(req.MessageID, &wire.KeyListPayload{
		Provided:   m.ValidKeys(),
		Subscribed: m.SubscribedKeys(),
	})
}

// close is the identity lost event of the connection: the remote provider
// is unregistered and the subscriber released.
func (ss *session) close() {
	m := ss.service.manager
	if ss.provider != nil {
		ss.provider.retire()
		if err := m.Unregister(ss.provider); err != nil && !errors.Is(err, broker.ErrProviderNotFound) {
			ss.service.logger.Warn("failed to unregister remote provider", "conn", ss.identity(), "error", err)
		}
		ss.provider = nil
		ss.service.RefreshAdvertisement()
	}
	m.IdentityLost(ss.identity())
	ss.subscriber = nil
}

// sendChanged delivers a change notification. It runs with the broker lock
// held and only queues the frame.
func (ss *session) sendChanged(res broker.Result) {
	ss.sendNotification(wire.OpChanged, valuesPayload(res))
}

func (ss *session) sendNotification(op wire.Operation, payload any) {
	notif, err := wire.NewNotification(op, payload)
	if err != nil {
		ss.service.logger.Error("failed to build notification", "op", op, "error", err)
		return
	}
	data, err := wire.EncodeNotification(notif)
	if err != nil {
		ss.service.logger.Error("failed to encode notification", "op", op, "error", err)
		return
	}
	if err := ss.conn.Send(data); err != nil {
		ss.service.logger.Debug("dropping notification", "conn", ss.identity(), "op", op, "error", err)
		return
	}
	ss.logMessage(log.DirectionOut, log.MessageTypeNotification, 0, &op, nil, nil)
}

func (ss *session) sendResponse(resp *wire.Response, start time.Time) {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		ss.service.logger.Error("failed to encode response", "conn", ss.identity(), "error", err)
		return
	}
	if err := ss.conn.Send(data); err != nil {
		ss.service.logger.Debug("dropping response", "conn", ss.identity(), "error", err)
		return
	}
	elapsed := time.Since(start)
	ss.logMessage(log.DirectionOut, log.MessageTypeResponse, resp.MessageID, nil, &resp.Status, &elapsed)
}

func (ss *session) logMessage(dir log.Direction, typ log.MessageType, id uint32, op *wire.Operation, status *wire.Status, elapsed *time.Duration) {
	ss.service.logEvent(log.Event{
		ConnectionID: ss.identity(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		RemoteAddr:   ss.conn.RemoteAddr(),
		Message: &log.MessageEvent{
			Type:           typ,
			MessageID:      id,
			Operation:      op,
			Status:         status,
			ProcessingTime: elapsed,
		},
	})
}

func (ss *session) logError(err error, context string) {
	ss.service.logEvent(log.Event{
		ConnectionID: ss.identity(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryError,
		RemoteAddr:   ss.conn.RemoteAddr(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerWire,
			Message: err.Error(),
			Context: context,
		},
	})
}

func valuesPayload(res broker.Result) *wire.ValuesPayload {
	return &wire.ValuesPayload{
		Values:         res.Values,
		Undeterminable: res.Undeterminable,
	}
}

// splitAbsent moves absent values of a commit to the undetermined list.
func splitAbsent(p wire.ValuesPayload) (map[string]value.Value, []string) {
	values := make(map[string]value.Value, len(p.Values))
	undetermined := slices.Clone(p.Undeterminable)
	for k, v := range p.Values {
		if v.IsAbsent() {
			undetermined = append(undetermined, k)
			continue
		}
		values[k] = v
	}
	return values, undetermined
}

func successResponse(id uint32, payload any) *wire.Response {
	resp, err := wire.NewResponse(id, wire.StatusSuccess, payload)
	if err != nil {
		return errorResponse(id, wire.StatusInternalError, err.Error())
	}
	return resp
}

func errorResponse(id uint32, status wire.Status, message string, keys ...string) *wire.Response {
	resp, err := wire.NewResponse(id, status, &wire.ErrorPayload{Message: message, Keys: keys})
	if err != nil {
		return &wire.Response{MessageID: id, Status: status}
	}
	return resp
}

// brokerErrorResponse maps broker errors to wire statuses.
func brokerErrorResponse(id uint32, err error) *wire.Response {
	var invalid *broker.InvalidKeysError
	switch {
	case errors.As(err, &invalid):
		return errorResponse(id, wire.StatusInvalidKey, err.Error(), invalid.Keys...)
	case errors.Is(err, broker.ErrSubscriberClosed), errors.Is(err, broker.ErrManagerStopped):
		return errorResponse(id, wire.StatusClosed, err.Error())
	case errors.Is(err, broker.ErrProviderRegistered):
		return errorResponse(id, wire.StatusInvalidRequest, err.Error())
	default:
		return errorResponse(id, wire.StatusInternalError, err.Error())
	}
}
