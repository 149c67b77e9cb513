package handler

import (
	"mime/multipart"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/StergiosCha/perpatame/internal/client"
	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/service"
	"github.com/StergiosCha/perpatame/pkg/log"
	"github.com/StergiosCha/perpatame/pkg/response"
)

const (
	defaultStoriesLimit = 50
	maxStoriesLimit     = 200
)

// Handler handles the REST API.
type Handler struct {
	stories       service.StoryService
	transcription service.TranscriptionService
	maxAudioBytes int64
}

// NewHandler creates a new HTTP handler.
func NewHandler(stories service.StoryService, transcription service.TranscriptionService, maxAudioBytes int64) *Handler {
	if maxAudioBytes <= 0 {
		maxAudioBytes = 25 << 20
	}
	return &Handler{
		stories:       stories,
		transcription: transcription,
		maxAudioBytes: maxAudioBytes,
	}
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/submit", h.Submit)
		api.POST("/preview-transformation", h.Preview)
		api.POST("/transcribe", h.Transcribe)
		api.GET("/transformation-styles", h.ListStyles)

		api.GET("/stories", h.ListApproved)
		api.GET("/stories/pending", h.ListPending)
		api.GET("/stats", h.Stats)
		api.POST("/moderate", h.Moderate)
	}
}

// Submit queues a story for moderation.
func (h *Handler) Submit(c *gin.Context) {
	ctx := c.Request.Context()
	l := log.Ctx(ctx)

	var req domain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("failed to bind submit request")
		response.BadRequest(c, err.Error())
		return
	}

	story, err := h.stories.Submit(ctx, &req)
	if err != nil {
		writeError(c, err, "failed to submit story")
		return
	}
	response.Created(c, story)
}

// Preview transforms a text without storing it.
func (h *Handler) Preview(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	t, err := h.stories.Preview(ctx, &req)
	if err != nil {
		writeError(c, err, "failed to preview transformation")
		return
	}
	response.Success(c, t)
}

// Transcribe converts an uploaded recording into text.
func (h *Handler) Transcribe(c *gin.Context) {
	ctx := c.Request.Context()

	file, err := c.FormFile("audio")
	if err != nil {
		file, err = c.FormFile("file")
	}
	if err != nil {
		response.BadRequest(c, "audio file is required")
		return
	}
	if file.Size > h.maxAudioBytes {
		response.BadRequest(c, "recording is too large")
		return
	}

	audio, err := readUpload(file, h.maxAudioBytes)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := h.transcription.Transcribe(ctx, audio, file.Filename, file.Header.Get("Content-Type"))
	if err != nil {
		writeError(c, err, "failed to transcribe recording")
		return
	}
	response.Success(c, res)
}

func readUpload(file *multipart.FileHeader, max int64) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return client.ReadAudio(f, max)
}

// ListStyles lists the transformation styles.
func (h *Handler) ListStyles(c *gin.Context) {
	response.Success(c, gin.H{
		"styles":  domain.Styles,
		"default": domain.DefaultStyle,
	})
}

// ListApproved lists approved stories, most recent first.
func (h *Handler) ListApproved(c *gin.Context) {
	ctx := c.Request.Context()

	limit := defaultStoriesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxStoriesLimit)
	}

	stories, err := h.stories.ListApproved(ctx, limit)
	if err != nil {
		writeError(c, err, "failed to list approved stories")
		return
	}
	response.Success(c, gin.H{"stories": stories, "count": len(stories)})
}

// ListPending lists stories awaiting moderation, newest first.
func (h *Handler) ListPending(c *gin.Context) {
	ctx := c.Request.Context()

	stories, err := h.stories.ListPending(ctx)
	if err != nil {
		writeError(c, err, "failed to list pending stories")
		return
	}
	response.Success(c, gin.H{"stories": stories, "count": len(stories)})
}

// Stats returns the moderation counters.
func (h *Handler) Stats(c *gin.Context) {
	response.Success(c, h.stories.SnapshotStats())
}

// Moderate applies a moderator decision.
func (h *Handler) Moderate(c *gin.Context) {
	ctx := c.Request.Context()

	var req domain.ModerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	c.Set(log.FieldModerator, req.ModeratorName)

	story, err := h.stories.Decide(ctx, req.StoryID, req.Action, req.ModeratorName)
	if err != nil {
		writeError(c, err, "failed to moderate story")
		return
	}
	response.Success(c, story)
}
