package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"moonlight/internal/artifacts"
	"moonlight/internal/flows"
	"moonlight/internal/llm"
	"moonlight/internal/models"
	"moonlight/internal/session"
	"moonlight/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipart overhead allowed on top of the image itself
const uploadSlack = 1 << 20

var errStreamingUnsupported = errors.New("streaming not supported")

// ModelLister is the model catalog as seen by the API.
type ModelLister interface {
	List() []llm.ModelInfo
	DefaultID() string
}

type CodeGenerator interface {
	GenerateCodeProject(ctx context.Context, in flows.CodeProjectInput) (*flows.CodeProjectOutput, error)
}

type ImageGenerator interface {
	GenerateEnhancedImage(ctx context.Context, in flows.ImageInput) (*flows.ImageOutput, error)
}

// JobRunner queues flow calls; *worker.Dispatcher implements it.
type JobRunner interface {
	Submit(ctx context.Context, key, name string, task worker.Task) (<-chan error, error)
}

// Options carries everything the routes need.
type Options struct {
	Catalog        ModelLister
	Code           CodeGenerator
	Images         ImageGenerator
	Chat           session.ChatRunner
	Store          *session.Store
	Archive        artifacts.Archive
	Workers        JobRunner
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

// Handler wires HTTP routes to the flows and the dialog store.
type Handler struct {
	catalog        ModelLister
	code           CodeGenerator
	images         ImageGenerator
	chat           session.ChatRunner
	store          *session.Store
	archive        artifacts.Archive
	workers        JobRunner
	maxUploadBytes int64
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(opts Options, logger *zap.Logger) *Handler {
	archive := opts.Archive
	if archive == nil {
		archive = artifacts.NopArchive{}
	}
	return &Handler{
		catalog:        opts.Catalog,
		code:           opts.Code,
		images:         opts.Images,
		chat:           opts.Chat,
		store:          opts.Store,
		archive:        archive,
		workers:        opts.Workers,
		maxUploadBytes: opts.MaxUploadBytes,
		requestTimeout: opts.RequestTimeout,
		logger:         logger.Named("api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestID(), AccessLog(h.logger))
	api := router.Group("/api")
	api.GET("/models", h.listModels)

	flowRoutes := api.Group("/flows")
	flowRoutes.POST("/code-project", h.generateCodeProject)
	flowRoutes.POST("/image", h.generateImage)
	flowRoutes.POST("/chat", h.searchAndSummarize)

	api.POST("/projects/zip", h.downloadProject)

	dialogs := api.Group("/dialogs")
	dialogs.GET("", h.listDialogs)
	dialogs.POST("", h.createDialog)
	dialogs.PUT("/active", h.activateDialog)
	dialogs.PATCH("/:id", h.renameDialog)
	dialogs.DELETE("/:id", h.deleteDialog)
	dialogs.POST("/:id/messages", h.sendMessage)
	dialogs.POST("/:id/uploads", h.uploadImage)
	dialogs.POST("/:id/messages/:msg_id/image-error", h.markImageError)

	api.GET("/studio", h.getStudio)
	api.PUT("/studio", h.updateStudio)
	api.GET("/studio/debug", h.getStudioDebug)
}

// errorStatus maps domain errors onto HTTP codes and client messages.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "server is busy, please retry"
	case errors.Is(err, worker.ErrDispatcherClosed):
		return http.StatusServiceUnavailable, "server is shutting down"
	case errors.Is(err, session.ErrDialogNotFound), errors.Is(err, session.ErrMessageNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, session.ErrLastDialog), errors.Is(err, session.ErrDialogBusy):
		return http.StatusConflict, err.Error()
	case errors.Is(err, session.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, session.ErrEmptyName),
		errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, session.ErrNotImage),
		errors.Is(err, session.ErrInvalidTemperature),
		errors.Is(err, flows.ErrEmptyRequest),
		errors.Is(err, flows.ErrEmptyPrompt),
		errors.Is(err, llm.ErrUnknownModel),
		errors.Is(err, artifacts.ErrNoFiles):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.String("request_id", RequestIDFromContext(c)), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

// run queues task on the dispatcher and waits for its result. ran reports
// whether the task body executed at all.
func (h *Handler) run(ctx context.Context, key, name string, task worker.Task) (ran bool, err error) {
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}
	result, err := h.workers.Submit(ctx, key, name, func(ctx context.Context) error {
		ran = true
		return task(ctx)
	})
	if err != nil {
		return false, err
	}
	err = <-result
	return ran, err
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":    h.catalog.List(),
		"defaultId": h.catalog.DefaultID(),
	})
}

func (h *Handler) generateCodeProject(c *gin.Context) {
	var req flows.CodeProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var out *flows.CodeProjectOutput
	_, err := h.run(c.Request.Context(), "code-project", "GenerateCodeProject", func(ctx context.Context) error {
		var err error
		out, err = h.code.GenerateCodeProject(ctx, req)
		return err
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) generateImage(c *gin.Context) {
	var req flows.ImageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var out *flows.ImageOutput
	_, err := h.run(c.Request.Context(), "image", "GenerateEnhancedImage", func(ctx context.Context) error {
		var err error
		out, err = h.images.GenerateEnhancedImage(ctx, req)
		return err
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"imageUrl":     out.ImageURL,
		"downloadName": artifacts.DownloadName(req.Prompt),
	})
}

func (h *Handler) searchAndSummarize(c *gin.Context) {
	var req flows.ChatInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var out *flows.ChatOutput
	_, err := h.run(c.Request.Context(), "chat", "SearchAndSummarize", func(ctx context.Context) error {
		var err error
		out, err = h.chat.SearchAndSummarize(ctx, req)
		return err
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type zipRequest struct {
	Files []models.GeneratedFile `json:"files"`
}

func (h *Handler) downloadProject(c *gin.Context) {
	var req zipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	data, err := artifacts.ZipProject(req.Files)
	if err != nil {
		h.respondError(c, err)
		return
	}
	key, err := h.archive.ArchiveProject(c.Request.Context(), data)
	if err != nil {
		h.logger.Warn("archive project failed", zap.Error(err))
	} else if key != "" {
		c.Header("X-Archive-Key", key)
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifacts.ProjectZipName))
	c.Data(http.StatusOK, "application/zip", data)
}

func (h *Handler) listDialogs(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.List())
}

func (h *Handler) createDialog(c *gin.Context) {
	d, err := h.store.Create(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) renameDialog(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id := c.Param("id")
	if err := h.store.Rename(c.Request.Context(), id, req.Name); err != nil {
		h.respondError(c, err)
		return
	}
	d, err := h.store.Dialog(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) deleteDialog(c *gin.Context) {
	activeID, err := h.store.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activeId": activeID})
}

type activateRequest struct {
	ID string `json:"id" binding:"required"`
}

func (h *Handler) activateDialog(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if err := h.store.Activate(c.Request.Context(), req.ID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sendMessageRequest struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
	Model    string `json:"model"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.streamReply(c, c.Param("id"), flows.ChatQuery{Text: req.Text, ImageURL: req.ImageURL}, req.Model)
}

func (h *Handler) uploadImage(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+uploadSlack)
	}
	file, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(c, session.ErrUploadTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image is required"})
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		h.respondError(c, session.ErrUploadTooLarge)
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	defer f.Close()
	uri, err := session.ReadImage(c.Request.Context(), f, file.Header.Get("Content-Type"), h.maxUploadBytes)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.streamReply(c, c.Param("id"), flows.ChatQuery{Text: c.PostForm("text"), ImageURL: uri}, c.PostForm("model"))
}

// streamReply appends the user turn and answers over SSE: "ack" carries the
// user message and the loading placeholder, then "done" carries the reply or
// "error" carries the failure. The reply is persisted even when the client
// goes away mid-stream.
func (h *Handler) streamReply(c *gin.Context, dialogID string, query flows.ChatQuery, modelID string) {
	pending, err := h.store.Begin(c.Request.Context(), dialogID, query, modelID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	jobCtx := context.WithoutCancel(c.Request.Context())

	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		_, _ = pending.Abort(jobCtx, errStreamingUnsupported)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errStreamingUnsupported.Error()})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if err := sendEvent("ack", gin.H{
		"dialog_id":    dialogID,
		"user_message": pending.User,
		"placeholder":  pending.Placeholder,
	}); err != nil {
		h.logger.Debug("client went away before ack", zap.String("dialog_id", dialogID), zap.Error(err))
	}

	var reply models.ChatMessage
	ran, err := h.run(jobCtx, dialogID, "SearchAndSummarize", func(ctx context.Context) error {
		var err error
		reply, err = pending.Complete(ctx)
		return err
	})
	if !ran {
		reply, _ = pending.Abort(jobCtx, err)
	}
	if err != nil {
		_, msg := errorStatus(err)
		_ = sendEvent("error", gin.H{"message": msg, "reply": reply})
		return
	}
	_ = sendEvent("done", gin.H{"reply": reply})
}

func (h *Handler) markImageError(c *gin.Context) {
	if err := h.store.MarkImageError(c.Request.Context(), c.Param("id"), c.Param("msg_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getStudio(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Studio())
}

func (h *Handler) updateStudio(c *gin.Context) {
	var req session.StudioUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	studio, err := h.store.UpdateStudio(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, studio)
}

func (h *Handler) getStudioDebug(c *gin.Context) {
	ex, ok := h.store.Debug()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no studio exchange recorded yet"})
		return
	}
	c.JSON(http.StatusOK, ex)
}
