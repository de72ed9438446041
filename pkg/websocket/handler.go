package websocket

import (
	"context"
	"errors"
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jgirmay/slidegenie-realtime/pkg/auth"
	"github.com/jgirmay/slidegenie-realtime/pkg/logging"
	"github.com/jgirmay/slidegenie-realtime/pkg/models"
	"github.com/jgirmay/slidegenie-realtime/pkg/protocol"
	"github.com/jgirmay/slidegenie-realtime/pkg/realtime"
)

// HandlerConf configures the session handlers.
type HandlerConf struct {
	Conn         Options
	InboundRate  float64
	InboundBurst int
	Logger       *logging.Logger
}

// Handler serves the three websocket surfaces on top of a realtime.Service.
type Handler struct {
	svc      *realtime.Service
	identity auth.Provider
	conf     HandlerConf
	log      *logging.Logger
}

func NewHandler(svc *realtime.Service, identity auth.Provider, conf HandlerConf) *Handler {
	if conf.InboundRate <= 0 {
		conf.InboundRate = 20
	}
	if conf.InboundBurst <= 0 {
		conf.InboundBurst = 40
	}
	return &Handler{
		svc:      svc,
		identity: identity,
		conf:     conf,
		log:      logging.OrGlobal(conf.Logger).Named("ws"),
	}
}

// registry is the part of a manager a session loop needs.
type registry interface {
	Send(id string, msg interface{}) bool
	Touch(id string)
	Disconnect(id string) bool
}

// authenticate runs before the upgrade; failures are plain HTTP 401s.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, err := h.identity.Authenticate(r)
	if err != nil {
		h.log.Warn("websocket auth failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	return id, true
}

func (h *Handler) upgrade(w http.ResponseWriter, r *http.Request) (*Conn, bool) {
	conn, err := Upgrade(w, r, h.conf.Conn)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return nil, false
	}
	return conn, true
}

// ServeGeneration streams progress of jobID and any jobs subscribed later.
func (h *Handler) ServeGeneration(w http.ResponseWriter, r *http.Request, jobID string) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}

	g := h.svc.Generation
	id := g.Connect(conn, user.UserID, map[string]string{"type": "generation", "job_id": jobID})
	g.Send(id, realtime.ConnectedEvent{
		Type:         realtime.EventConnected,
		ConnectionID: id,
		JobID:        jobID,
		Message:      "Connected to generation progress updates",
		Timestamp:    h.svc.Now(),
	})
	if err := g.Subscribe(id, jobID); err != nil {
		g.Disconnect(id)
		return
	}

	h.run(conn, g, id, protocol.SurfaceGeneration, func(msg protocol.Message) {
		switch m := msg.(type) {
		case *protocol.Ping:
			g.Send(id, realtime.PongEvent{Type: realtime.EventPong, Timestamp: h.svc.Now()})
		case *protocol.SubscribeJob:
			err := g.Subscribe(id, m.JobID)
			g.Send(id, realtime.SubscriptionEvent{Type: realtime.EventSubscribed, JobID: m.JobID, Success: err == nil})
		case *protocol.UnsubscribeJob:
			g.Unsubscribe(id, m.JobID)
			g.Send(id, realtime.SubscriptionEvent{Type: realtime.EventUnsubscribed, JobID: m.JobID, Success: true})
		}
	})
}

// ServeCollaboration admits the caller to a presentation session. Access is
// checked after the upgrade so a refusal can carry a close code, and before
// any session state exists.
func (h *Handler) ServeCollaboration(w http.ResponseWriter, r *http.Request, presentationID string) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}

	if _, err := h.svc.AuthorizeJoin(r.Context(), presentationID, user.UserID); err != nil {
		code := CloseInternalError
		switch {
		case errors.Is(err, realtime.ErrPresentationNotFound):
			code = realtime.CloseUnsupportedData
		case errors.Is(err, realtime.ErrUnauthorized):
			code = realtime.ClosePolicyViolation
		default:
			h.log.Error("authorize join", zap.String("presentation_id", presentationID), zap.Error(err))
		}
		conn.Close(code, err.Error())
		<-conn.Finished()
		return
	}

	c := h.svc.Collaboration
	identity := realtime.Identity{UserID: user.UserID, Name: user.Name, Email: user.Email, Role: user.Role}
	id := c.Connect(conn, user.UserID, map[string]string{"type": "collaboration", "presentation_id": presentationID})
	c.Send(id, realtime.ConnectedEvent{
		Type:           realtime.EventConnected,
		ConnectionID:   id,
		PresentationID: presentationID,
		Message:        "Connected to presentation session",
		Timestamp:      h.svc.Now(),
	})
	if err := c.Join(id, presentationID, identity); err != nil {
		c.Disconnect(id)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.run(conn, c, id, protocol.SurfaceCollaboration, func(msg protocol.Message) {
		h.dispatchCollaboration(ctx, id, presentationID, identity, msg)
	})
}

func (h *Handler) dispatchCollaboration(ctx context.Context, id, presentationID string, user realtime.Identity, msg protocol.Message) {
	c := h.svc.Collaboration
	switch m := msg.(type) {
	case *protocol.Ping:
		if _, err := c.UpdatePresence(presentationID, user.UserID, realtime.PresenceUpdate{Status: models.PresenceOnline}); err != nil {
			h.log.Warn("refresh presence", zap.Error(err))
		}
		c.Send(id, realtime.PongEvent{Type: realtime.EventPong, Timestamp: h.svc.Now()})

	case *protocol.Join:
		if m.PresentationID != presentationID {
			c.Send(id, realtime.NewErrorEvent("Cannot join another presentation on this connection"))
			return
		}
		if err := c.Join(id, presentationID, user); err != nil {
			h.log.Warn("rejoin", zap.Error(err))
		}

	case *protocol.PresenceUpdate:
		if _, err := c.UpdatePresence(presentationID, user.UserID, realtime.PresenceUpdate{
			Status:         m.Status,
			CurrentSlide:   m.CurrentSlide,
			CursorPosition: m.CursorPosition,
			ActiveSection:  m.ActiveSection,
		}); err != nil {
			c.Send(id, realtime.NewErrorEvent(err.Error()))
		}

	case *protocol.EditOperation:
		op, err := h.svc.SubmitEdit(presentationID, models.EditOperation{
			ID:         m.Operation.ID,
			Type:       m.Operation.Type,
			SlideID:    m.Operation.SlideID,
			ElementID:  m.Operation.ElementID,
			Position:   m.Operation.Position,
			Content:    m.Operation.Content,
			AuthorID:   user.UserID,
			AuthorName: user.Name,
		})
		if err != nil {
			c.Send(id, realtime.NewErrorEvent(err.Error()))
			return
		}
		c.Send(id, realtime.EditOperationEvent{Type: realtime.EventEditOperation, Operation: op, Timestamp: h.svc.Now()})

	case *protocol.LockSlide:
		ok, err := c.LockSlide(ctx, presentationID, m.SlideID, user, m.LockType)
		if err != nil {
			h.log.Error("lock slide", zap.String("presentation_id", presentationID), zap.Error(err))
		}
		c.Send(id, realtime.LockResponseEvent{Type: realtime.EventLockResponse, SlideID: m.SlideID, Action: "lock", Success: ok})

	case *protocol.UnlockSlide:
		ok, err := c.UnlockSlide(ctx, presentationID, m.SlideID, user.UserID)
		if err != nil {
			h.log.Error("unlock slide", zap.String("presentation_id", presentationID), zap.Error(err))
		}
		c.Send(id, realtime.LockResponseEvent{Type: realtime.EventLockResponse, SlideID: m.SlideID, Action: "unlock", Success: ok})

	case *protocol.CursorUpdate:
		c.UpdateCursor(presentationID, user.UserID, m.Cursor)
	}
}

// ServeNotifications subscribes the caller to the general and per-user
// channels and then serves channel management frames.
func (h *Handler) ServeNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	conn, ok := h.upgrade(w, r)
	if !ok {
		return
	}

	n := h.svc.Notifications
	// The hub's own Send publishes notifications; frames to one connection
	// go through the embedded registry.
	reg := n.Registry
	id := n.Connect(conn, user.UserID, map[string]string{"type": "notifications"})
	reg.Send(id, realtime.ConnectedEvent{
		Type:               realtime.EventConnected,
		ConnectionID:       id,
		SubscribedChannels: realtime.ReservedChannels(user.UserID),
		Message:            "Connected to notification system",
		Timestamp:          h.svc.Now(),
	})

	h.run(conn, reg, id, protocol.SurfaceNotifications, func(msg protocol.Message) {
		switch m := msg.(type) {
		case *protocol.Ping:
			reg.Send(id, realtime.PongEvent{Type: realtime.EventPong, Timestamp: h.svc.Now()})
		case *protocol.SubscribeChannel:
			err := n.SubscribeChannel(id, m.Channel)
			reg.Send(id, realtime.SubscriptionEvent{Type: realtime.EventSubscribed, Channel: m.Channel, Success: err == nil})
		case *protocol.UnsubscribeChannel:
			err := n.UnsubscribeChannel(id, m.Channel)
			reg.Send(id, realtime.SubscriptionEvent{Type: realtime.EventUnsubscribed, Channel: m.Channel, Success: err == nil})
		case *protocol.MarkRead:
			found := n.MarkRead(id, m.NotificationID)
			reg.Send(id, realtime.MarkedReadEvent{Type: realtime.EventMarkedRead, NotificationID: m.NotificationID, Found: found})
		}
	})
}

// run is the read loop shared by every surface. It returns when the peer
// goes away and always releases the connection.
func (h *Handler) run(conn *Conn, reg registry, id string, surface protocol.Surface, dispatch func(protocol.Message)) {
	defer reg.Disconnect(id)
	limiter := rate.NewLimiter(rate.Limit(h.conf.InboundRate), h.conf.InboundBurst)

	for {
		data, err := conn.ReadFrame()
		if err != nil {
			if gorillaws.IsUnexpectedCloseError(err, gorillaws.CloseGoingAway, gorillaws.CloseNormalClosure) {
				h.log.Warn("websocket read", zap.String("connection_id", id), zap.Error(err))
			}
			return
		}
		reg.Touch(id)

		if !limiter.Allow() {
			reg.Send(id, realtime.NewErrorEvent("Rate limit exceeded"))
			continue
		}

		msg, err := protocol.Decode(surface, data)
		if err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				reg.Send(id, realtime.NewErrorEvent(perr.Message))
			}
			h.log.Debug("protocol error", zap.String("surface", surface.String()), zap.Error(err))
			continue
		}
		h.safeDispatch(id, reg, dispatch, msg)
	}
}

func (h *Handler) safeDispatch(id string, reg registry, dispatch func(protocol.Message), msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("dispatch panicked", zap.String("type", msg.Type()), zap.Any("panic", r))
			reg.Send(id, realtime.NewErrorEvent("Internal error processing message"))
		}
	}()
	dispatch(msg)
}
