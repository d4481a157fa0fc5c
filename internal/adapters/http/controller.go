package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/app"
)

type CallRequest struct {
	PeerID string `json:"peer_id"`
}

type ToggleResponse struct {
	Enabled bool `json:"enabled"`
}

// Controller translates HTTP requests into call-manager operations.
type Controller struct {
	manager *app.Manager
}

func NewController(manager *app.Manager) *Controller {
	return &Controller{manager: manager}
}

func (ctrl *Controller) handlerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, ctrl.manager.Snapshot())
}

// handlerEvents streams status and notification events over SSE until the
// client goes away.
func (ctrl *Controller) handlerEvents(c *gin.Context) {
	ch, cancel := ctrl.manager.Bus().Subscribe()
	defer cancel()

	log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("event stream opened")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("message", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (ctrl *Controller) handlerCall(c *gin.Context) {
	var req CallRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PeerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid peer_id"})
		return
	}
	if err := ctrl.manager.Dial(req.PeerID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ctrl.manager.Snapshot())
}

func (ctrl *Controller) handlerHangup(c *gin.Context) {
	ctrl.manager.Hangup()
	c.JSON(http.StatusOK, ctrl.manager.Snapshot())
}

func (ctrl *Controller) handlerToggleAudio(c *gin.Context) {
	on, err := ctrl.manager.ToggleAudio()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ToggleResponse{Enabled: on})
}

func (ctrl *Controller) handlerToggleVideo(c *gin.Context) {
	on, err := ctrl.manager.ToggleVideo()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ToggleResponse{Enabled: on})
}

func (ctrl *Controller) handlerToggleScreen(c *gin.Context) {
	sharing, err := ctrl.manager.ToggleScreen()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sharing": sharing})
}
