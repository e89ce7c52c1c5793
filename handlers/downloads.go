package handlers

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"ariaview/services"
	"ariaview/types"
	"ariaview/websocket"
)

// maxTorrentSize bounds uploaded .torrent files
const maxTorrentSize = 10 << 20

// DownloadHandler handles download management endpoints
type DownloadHandler struct {
	engine services.DownloadService
	hub    websocket.Hub
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(engine services.DownloadService, hub websocket.Hub) *DownloadHandler {
	return &DownloadHandler{
		engine: engine,
		hub:    hub,
	}
}

// GetAllJobs returns the current snapshot
func (h *DownloadHandler) GetAllJobs(c *gin.Context) {
	snap := h.engine.Snapshot()
	c.JSON(http.StatusOK, types.JobsResponse{
		Jobs:    snap.Jobs(),
		Total:   snap.Len(),
		Version: snap.Version,
	})
}

// GetJob returns a specific download job by gid
func (h *DownloadHandler) GetJob(c *gin.Context) {
	gid := c.Param("gid")
	job, exists := h.engine.Job(gid)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job": job,
	})
}

// AddURI queues a link
func (h *DownloadHandler) AddURI(c *gin.Context) {
	var req types.AddURIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "uri is required",
		})
		return
	}

	gid, err := h.engine.AddLink(c.Request.Context(), req.URI)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Download queued successfully",
		"gid":     gid,
	})
}

// AddTorrent queues a torrent sent either as a multipart "file" upload or
// as base64 in a JSON body
func (h *DownloadHandler) AddTorrent(c *gin.Context) {
	torrent, err := readTorrent(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	gid, err := h.engine.AddTorrent(c.Request.Context(), torrent)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Torrent queued successfully",
		"gid":     gid,
	})
}

// DeleteJob removes a download job from aria2
func (h *DownloadHandler) DeleteJob(c *gin.Context) {
	gid := c.Param("gid")
	if err := h.engine.DeleteLink(c.Request.Context(), gid); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "job removed successfully",
	})
}

// HandleWebSocketConnection streams snapshots narrowed to one job
func (h *DownloadHandler) HandleWebSocketConnection(c *gin.Context) {
	gid := c.Param("gid")
	if gid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "gid is required"})
		return
	}

	h.serveWebSocket(c, gid)
}

// HandleWebSocketAllConnection streams every snapshot
func (h *DownloadHandler) HandleWebSocketAllConnection(c *gin.Context) {
	h.serveWebSocket(c, "")
}

func (h *DownloadHandler) serveWebSocket(c *gin.Context, gid string) {
	upgrader := websocket.GetUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	client := websocket.NewClient(h.hub, conn, h.engine.Subscribe(), gid)
	if !h.hub.RegisterClient(client) {
		conn.Close()
		return
	}

	// Start client pumps
	client.StartPumps()
}

func readTorrent(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("file")
		if err != nil {
			return nil, errors.New("file is required")
		}
		if header.Size > maxTorrentSize {
			return nil, errors.New("torrent file too large")
		}
		f, err := header.Open()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read upload")
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxTorrentSize))
	}

	var req types.AddTorrentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Torrent == "" {
		return nil, errors.New("torrent is required")
	}
	torrent, err := base64.StdEncoding.DecodeString(req.Torrent)
	if err != nil {
		return nil, errors.New("torrent must be base64 encoded")
	}
	return torrent, nil
}

// respondError maps engine errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": verr.Error(),
		})
		return
	}

	log.Warnf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(http.StatusBadGateway, gin.H{
		"error": err.Error(),
	})
}
