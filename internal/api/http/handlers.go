package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termcore/internal/providers/terminal"
	"github.com/GriffinCanCode/termcore/internal/shell/session"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	manager *terminal.Manager
	metrics *monitoring.Metrics
	logger  *zap.Logger
	version string
}

// NewHandlers creates a new handler set
func NewHandlers(manager *terminal.Manager, metrics *monitoring.Metrics, logger *zap.Logger, version string) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{manager: manager, metrics: metrics, logger: logger, version: version}
}

// CreateSessionRequest is the optional body of POST /sessions.
type CreateSessionRequest struct {
	WorkingDir string `json:"working_dir"`
	Echo       *bool  `json:"echo"`
}

// LineRequest carries one line of user input.
type LineRequest struct {
	Line string `json:"line"`
}

// InputRequest carries raw bytes for the foreground job.
type InputRequest struct {
	Data string `json:"data"`
	EOF  bool   `json:"eof"`
}

// KillRequest selects a job and a signal.
type KillRequest struct {
	Pid    int    `json:"pid" binding:"required"`
	Signal string `json:"signal"`
}

// ResizeRequest sets the terminal window size.
type ResizeRequest struct {
	Rows uint16 `json:"rows" binding:"required"`
	Cols uint16 `json:"cols" binding:"required"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termcore",
		"version": h.version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	sessions, err := h.manager.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": len(sessions),
		"metrics":  h.metrics.Snapshot(),
	})
}

// CreateSession starts a new shell session
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session request format"})
		return
	}
	opts := terminal.CreateOptions{WorkingDir: req.WorkingDir, Echo: true}
	if req.Echo != nil {
		opts.Echo = *req.Echo
	}

	info, err := h.manager.CreateSession(c.Request.Context(), opts)
	if err != nil {
		if errors.Is(err, terminal.ErrStopped) {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, info)
}

// ListSessions lists all sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions, err := h.manager.ListSessions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// GetSession returns one session
func (h *Handlers) GetSession(c *gin.Context) {
	info, err := h.manager.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// DeleteSession kills every job of a session and removes it
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.manager.CloseSession(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SubmitLine feeds a line of input to the session
func (h *Handlers) SubmitLine(c *gin.Context) {
	var req LineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid line request format"})
		return
	}
	if err := h.manager.Submit(c.Request.Context(), c.Param("id"), req.Line); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// Input writes raw data to the foreground job
func (h *Handlers) Input(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input request format"})
		return
	}
	ctx, sid := c.Request.Context(), c.Param("id")
	if req.Data != "" {
		if err := h.manager.Write(ctx, sid, []byte(req.Data)); err != nil {
			h.fail(c, err)
			return
		}
	}
	if req.EOF {
		if err := h.manager.CloseInput(ctx, sid); err != nil {
			h.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Resize changes the foreground terminal size
func (h *Handlers) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid resize request format"})
		return
	}
	if err := h.manager.Resize(c.Request.Context(), c.Param("id"), req.Rows, req.Cols); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Interrupt signals the foreground job
func (h *Handlers) Interrupt(c *gin.Context) {
	signalled, err := h.manager.Interrupt(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"signalled": signalled})
}

// Detach moves the foreground job to the background
func (h *Handlers) Detach(c *gin.Context) {
	detached, err := h.manager.Detach(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"detached": detached})
}

// Kill signals a job by pid or process group
func (h *Handlers) Kill(c *gin.Context) {
	var req KillRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Pid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid kill request format"})
		return
	}
	sig, ok := session.ParseSignal("TERM")
	if req.Signal != "" {
		sig, ok = session.ParseSignal(req.Signal)
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signal " + strconv.Quote(req.Signal)})
		return
	}

	msg, err := h.manager.Kill(c.Request.Context(), c.Param("id"), req.Pid, sig)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// Jobs returns the job state of a session
func (h *Handlers) Jobs(c *gin.Context) {
	snap, err := h.manager.Jobs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Output drains the buffered output of a session
func (h *Handlers) Output(c *gin.Context) {
	out, err := h.manager.Read(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": string(out)})
}

// fail maps manager and session errors to status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, terminal.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrNoForeground), errors.Is(err, session.ErrNoInput):
		status = http.StatusConflict
	case errors.Is(err, terminal.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
