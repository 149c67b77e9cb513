package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/StergiosCha/perpatame/internal/audit"
	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/hub"
	"github.com/StergiosCha/perpatame/internal/service"
	"github.com/StergiosCha/perpatame/pkg/log"
	"github.com/StergiosCha/perpatame/pkg/response"
)

// WSHandler upgrades moderator and display connections and handles
// their inbound messages.
type WSHandler struct {
	hub      *hub.Hub
	stories  service.StoryService
	upgrader websocket.Upgrader
}

// NewWSHandler creates a websocket handler. An empty allowedOrigins
// accepts any origin.
func NewWSHandler(h *hub.Hub, stories service.StoryService, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		hub:     h,
		stories: stories,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// RegisterRoutes registers the websocket routes.
func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/moderate", h.HandleModerator)
	r.GET("/ws/display", h.HandleDisplay)
}

func (h *WSHandler) HandleModerator(c *gin.Context) {
	h.serve(c, domain.ChannelModerator, strings.TrimSpace(c.Query("moderator")))
}

func (h *WSHandler) HandleDisplay(c *gin.Context) {
	h.serve(c, domain.ChannelDisplay, "")
}

func (h *WSHandler) serve(c *gin.Context, ch domain.Channel, moderator string) {
	l := log.Ctx(c.Request.Context())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, ch)
	client.Moderator = moderator

	if err := h.stories.Subscribe(client); err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, hub.ErrHubStopped) {
			code = websocket.CloseGoingAway
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()))
		conn.Close()
		l.Warn().Err(err).Str(log.FieldChannel, string(ch)).Msg("failed to subscribe connection")
		return
	}
	audit.Connected(client.ID, ch, moderator)

	go client.WritePump()
	go func() {
		client.ReadPump(h.handleMessage)
		audit.Disconnected(client.ID, ch)
	}()
}

func (h *WSHandler) handleMessage(c *hub.Client, message []byte) {
	msg, err := domain.ParseInbound(message)
	if err != nil {
		c.SendMessage(domain.NewErrorMessage(response.CodeBadRequest, err.Error()))
		return
	}

	switch m := msg.(type) {
	case domain.PingMessage:
		c.SendMessage(domain.PongMessage{Type: domain.MsgTypePong})
	case domain.DecideMessage:
		if c.Channel != domain.ChannelModerator {
			c.SendMessage(domain.NewErrorMessage(response.CodeBadRequest, "decisions are only accepted on the moderator channel"))
			return
		}
		// Decisions may take a while; keep reading heartbeats meanwhile.
		go h.decide(c, m)
	default:
		c.SendMessage(domain.NewErrorMessage(response.CodeBadRequest, "unsupported message"))
	}
}

func (h *WSHandler) decide(c *hub.Client, m domain.DecideMessage) {
	moderator := strings.TrimSpace(m.ModeratorName)
	if moderator == "" {
		moderator = c.Moderator
	}

	ctx := log.WithLogger(context.Background(), log.L().With().
		Str(log.FieldConnID, c.ID).
		Str(log.FieldRequestID, m.RequestID).
		Logger())

	result := domain.DecisionResultMessage{
		Type:      domain.MsgTypeDecisionResult,
		RequestID: m.RequestID,
	}

	story, err := h.stories.Decide(ctx, m.StoryID, m.Action, moderator)
	if err != nil {
		_, code, msg := classify(err)
		result.Code = code
		result.Message = msg
		var conflict *service.AlreadyDecidedError
		if errors.As(err, &conflict) {
			result.Story = conflict.Story
		}
	} else {
		result.Success = true
		result.Story = story
	}

	c.SendMessage(result)
}
