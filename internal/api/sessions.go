package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/iitbhu2k25/dss-muskan-sub006/internal/humastar"
	"github.com/iitbhu2k25/dss-muskan-sub006/internal/session"
)

// RegisterSessions registers the session lifecycle routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	tags := huma.OperationTags("sessions")
	huma.Get(api, "/api/v1/sessions", h.ListSessions, tags)
	huma.Post(api, "/api/v1/sessions", h.CreateSession, tags, func(o *huma.Operation) {
		o.DefaultStatus = 201
	})
	huma.Get(api, "/api/v1/sessions/{session}", h.GetSession, tags)
	huma.Delete(api, "/api/v1/sessions/{session}", h.DeleteSession, tags)
}

type SessionInput struct {
	Session string `path:"session" doc:"Session ID"`
}

type PageInput struct {
	Offset int `query:"offset" minimum:"0" default:"0" doc:"Items to skip"`
	Limit  int `query:"limit" minimum:"0" maximum:"1000" default:"50" doc:"Page size, 0 for all"`
}

type SessionBody struct {
	ID          string    `json:"id" doc:"Session ID"`
	Created     time.Time `json:"created" doc:"Creation time"`
	Hierarchies []string  `json:"hierarchies" doc:"Selection hierarchies"`
	Datasets    []string  `json:"datasets" doc:"Editable datasets"`
	Layers      int       `json:"layers" doc:"Managed map layers"`
	Evicted     bool      `json:"evicted,omitempty" doc:"Whether an older session was closed to make room"`
}

type SessionOutput struct {
	Body SessionBody
}

func sessionBody(s *session.Session) SessionBody {
	return SessionBody{
		ID:          s.ID(),
		Created:     s.Created(),
		Hierarchies: s.Hierarchies(),
		Datasets:    s.Datasets(),
		Layers:      len(s.Maps().Snapshot().Layers),
	}
}

// session looks up an open session.
func (h *APIHandler) session(id string) (*session.Session, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("sessions not available")
	}
	s, ok := h.svc.Sessions.Get(id)
	if !ok || s.Closed() {
		return nil, huma.Error404NotFound("session not found")
	}
	return s, nil
}

func (h *APIHandler) ListSessions(ctx context.Context, input *PageInput) (*struct {
	Body humastar.PageBody[SessionBody]
}, error) {
	items := []SessionBody{}
	if h.svc.Sessions != nil {
		for _, id := range h.svc.Sessions.IDs() {
			if s, ok := h.svc.Sessions.Get(id); ok {
				items = append(items, sessionBody(s))
			}
		}
	}
	return &struct {
		Body humastar.PageBody[SessionBody]
	}{Body: humastar.Paginate(items, input.Offset, input.Limit)}, nil
}

// CreateSession builds a session, loads its root options and base layers
// and registers it.
func (h *APIHandler) CreateSession(ctx context.Context, input *struct{}) (*SessionOutput, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("sessions not available")
	}
	s := session.New(h.svc.Deps)
	if err := s.Open(ctx); err != nil {
		s.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, huma.Error504GatewayTimeout("session open timed out")
		}
		return nil, huma.Error500InternalServerError("failed to open session", err)
	}
	body := sessionBody(s)
	body.Evicted = h.svc.Sessions.Add(s)
	h.logger.Info("session created", "session", s.ID(), "sessions", h.svc.Sessions.Len())
	return &SessionOutput{Body: body}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	s, err := h.session(input.Session)
	if err != nil {
		return nil, err
	}
	return &SessionOutput{Body: sessionBody(s)}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Sessions == nil || !h.svc.Sessions.Remove(input.Session) {
		return nil, huma.Error404NotFound("session not found")
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session closed"}}, nil
}
