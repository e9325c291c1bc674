package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/httputil"
	"clinic-chat/internal/media"
	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	deps Deps
}

func principal(c *gin.Context) (chat.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": httputil.UnauthorizedMessage})
	}
	return p, ok
}

// getHistory GET /api/v1/messages/:appointmentId?limit=&before=
func (h *handlers) getHistory(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	appointmentID := c.Param("appointmentId")
	if err := middleware.ValidateAppointmentID(appointmentID); err != nil {
		httputil.BadRequest(c, err.Error())
		return
	}

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.BadRequest(c, "limit must be an integer")
			return
		}
		limit = n
		if limit < 1 {
			limit = 1
		}
	}

	page, err := h.deps.Chat.History(c.Request.Context(), p, appointmentID, chat.HistoryQuery{
		Limit:  limit,
		Before: c.Query("before"),
	})
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		httputil.Unauthorized(c)
		return
	case errors.Is(err, chat.ErrInvalidCursor):
		httputil.BadRequest(c, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(c, err)
		return
	}

	httputil.OK(c, gin.H{
		"messages": page.Messages,
		"cursor":   page.Cursor,
		"hasMore":  page.HasMore,
		"limit":    page.Limit,
	})
}

// getInbox GET /api/v1/inbox
func (h *handlers) getInbox(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	entries, err := h.deps.Inbox.Inbox(c.Request.Context(), p.ID, p.Role)
	if err != nil {
		httputil.BadGateway(c, err)
		return
	}
	httputil.OK(c, gin.H{"inbox": entries})
}

// getUnreadCount GET /api/v1/unread-messages
func (h *handlers) getUnreadCount(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	n, err := h.deps.Chat.UnreadTotal(c.Request.Context(), p)
	if err != nil {
		httputil.BadGateway(c, err)
		return
	}
	httputil.OK(c, gin.H{"unreadCount": n})
}

// uploadChatFile POST /api/v1/upload/chat-file
func (h *handlers) uploadChatFile(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.BadRequest(c, "file too large")
			return
		}
		httputil.BadRequest(c, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}
	defer f.Close()

	file, err := h.deps.Media.Upload(c.Request.Context(), p, fh.Filename, fh.Header.Get("Content-Type"), f)
	switch {
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrTooLarge), errors.Is(err, media.ErrEmpty):
		httputil.BadRequest(c, err.Error())
		return
	case err != nil:
		httputil.SafeError(c, http.StatusInternalServerError, err, "upload failed")
		return
	}

	logger.Info(c.Request.Context(), "附件上傳成功",
		logger.WithPrincipal(p.ID, string(p.Role)),
		logger.WithDetails(map[string]interface{}{"type": file.Type, "size": file.Size}))
	httputil.OK(c, gin.H{"file": file})
}
