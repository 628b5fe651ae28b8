package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/suiyueqingqian/model-check-sub000/internal/apierr"
	"github.com/suiyueqingqian/model-check-sub000/internal/modelsync"
	"github.com/suiyueqingqian/model-check-sub000/internal/store"
)

// triggerRequest is the POST /detect body.
type triggerRequest struct {
	ChannelID         string              `json:"channelId"`
	ModelID           string              `json:"modelId"`
	ModelIDs          []string            `json:"modelIds"`
	ChannelIDs        []string            `json:"channelIds"`
	ModelIDsByChannel map[string][]string `json:"modelIdsByChannel"`
	SyncFirst         bool                `json:"syncFirst"`
}

// handleTriggerDetect dispatches to the right Trigger* call based on which
// selector fields are present.
func (s *Server) handleTriggerDetect(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		writeError(c, apierr.New(apierr.CodeValidationError, err.Error()))
		return
	}

	ctx := c.Request.Context()
	var (
		count int
		err   error
	)

	switch {
	case req.ModelID != "":
		count, err = s.detect.TriggerModelDetection(ctx, req.ModelID)
	case req.ChannelID != "":
		count, err = s.detect.TriggerChannelDetection(ctx, req.ChannelID, req.ModelIDs)
	case req.ChannelIDs != nil:
		count, err = s.detect.TriggerSelectiveDetection(ctx, req.ChannelIDs, req.ModelIDsByChannel)
	default:
		count, err = s.detect.TriggerFullDetection(ctx, req.SyncFirst)
	}

	if err != nil {
		writeError(c, apierr.Wrap(apierr.CodeQueueError, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"enqueued": count})
}

// handleStopDetect implements DELETE /detect.
func (s *Server) handleStopDetect(c *gin.Context) {
	drained, err := s.detect.Stop(c.Request.Context())
	if err != nil {
		writeError(c, apierr.Wrap(apierr.CodeQueueError, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"drained": drained})
}

// handleDetectStatus implements GET /detect, the polling-fallback snapshot.
func (s *Server) handleDetectStatus(c *gin.Context) {
	snapshot, err := s.bus.CurrentSnapshot(c.Request.Context())
	if err != nil {
		writeError(c, apierr.Wrap(apierr.CodeInternalError, err))
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// handleSSEProgress implements GET /sse/progress.
func (s *Server) handleSSEProgress(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	flusher, _ := c.Writer.(http.Flusher)
	var flush func()
	if flusher != nil {
		flush = flusher.Flush
	}

	if err := s.bus.RelaySSE(c.Request.Context(), c.Writer, flush); err != nil {
		log.WithError(err).Warn("sse relay ended with error")
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWSProgress implements the companion WebSocket progress feed.
func (s *Server) handleWSProgress(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("ws upgrade failed")
		return
	}
	s.hub.Register(conn)

	// Drain and discard client frames; this is a server-push-only feed. When
	// the read loop errors (client disconnect), unregister the connection.
	go func() {
		defer s.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// syncRequest is the POST /channel/:id/sync body.
type syncRequest struct {
	ModelNames []string                  `json:"modelNames"`
	ModelPairs []modelsyncSelectedPairDTO `json:"modelPairs"`
}

type modelsyncSelectedPairDTO struct {
	Name         string `json:"name"`
	ChannelKeyID string `json:"channelKeyId"`
}

// handleChannelSync implements POST /channel/{id}/sync.
func (s *Server) handleChannelSync(c *gin.Context) {
	channelID := c.Param("id")

	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		writeError(c, apierr.New(apierr.CodeValidationError, err.Error()))
		return
	}

	var selectedPairs []modelsync.SelectedPair
	if req.ModelPairs != nil {
		for _, p := range req.ModelPairs {
			selectedPairs = append(selectedPairs, modelsync.SelectedPair{Name: p.Name, ChannelKeyID: p.ChannelKeyID})
		}
	}

	result, err := s.sync.SyncChannel(c.Request.Context(), channelID, req.ModelNames, selectedPairs)
	if err != nil {
		if apiErr, ok := apierr.As(err); ok {
			writeError(c, apiErr)
			return
		}
		writeError(c, apierr.Wrap(apierr.CodeSyncError, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": result.Added, "removed": result.Removed, "total": result.Total})
}

// handleGetSchedulerConfig implements GET /scheduler/config.
func (s *Server) handleGetSchedulerConfig(c *gin.Context) {
	cfg := s.scheduler.Config()
	if cfg == nil {
		writeError(c, apierr.New(apierr.CodeNotFound, "scheduler config not available"))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// handlePutSchedulerConfig implements PUT /scheduler/config.
func (s *Server) handlePutSchedulerConfig(c *gin.Context) {
	var cfg store.SchedulerConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		writeError(c, apierr.New(apierr.CodeValidationError, err.Error()))
		return
	}
	if err := s.scheduler.Reload(c.Request.Context(), &cfg); err != nil {
		writeError(c, apierr.Wrap(apierr.CodeConfigError, err))
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// handleSchedulerStatus implements GET /scheduler.
func (s *Server) handleSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.CurrentStatus())
}
