package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mentorship/internal/account"
	"mentorship/internal/apperr"
	"mentorship/internal/auth"
	"mentorship/internal/connection"
	"mentorship/internal/messaging"
	"mentorship/internal/profile"
)

const maxUploadBytes = 5 << 20

func (h *Handler) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": apperr.Message(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func identity(c *gin.Context) auth.Identity {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return id
}

func (h *Handler) signup(c *gin.Context) {
	var req account.SignupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.accounts.Signup(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tokens, err := h.accounts.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (h *Handler) sendOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.accounts.SendOTP(c.Request.Context(), req.Email); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "OTP sent"})
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		OTP   string `json:"otp" binding:"required,len=6,numeric"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.accounts.VerifyOTP(c.Request.Context(), req.Email, req.OTP); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

func (h *Handler) me(c *gin.Context) {
	id := identity(c)
	p, err := h.profiles.Get(c.Request.Context(), id.UserID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		h.fail(c, err)
		return
	}
	body := gin.H{"user": id, "profile": nil}
	if err == nil {
		body["profile"] = p
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) completeProfile(c *gin.Context) {
	var req profile.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.profiles.Complete(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func readUpload(c *gin.Context) (string, []byte, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return "", nil, apperr.Invalid("file field required")
	}
	if header.Size > maxUploadBytes {
		return "", nil, apperr.Invalid("file exceeds %d bytes", maxUploadBytes)
	}
	f, err := header.Open()
	if err != nil {
		return "", nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return "", nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return "", nil, apperr.Invalid("file exceeds %d bytes", maxUploadBytes)
	}
	return header.Filename, data, nil
}

func (h *Handler) uploadImage(c *gin.Context) {
	name, data, err := readUpload(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	url, err := h.profiles.UploadImage(c.Request.Context(), name, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) uploadCredential(c *gin.Context) {
	name, data, err := readUpload(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	url, err := h.profiles.UploadCredential(c.Request.Context(), name, data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) getProfile(c *gin.Context) {
	p, err := h.profiles.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listMentors(c *gin.Context) {
	mentors, err := h.profiles.ListMentors(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mentors": mentors})
}

func (h *Handler) leaderboard(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 || parsed > 50 {
			badRequest(c, errors.New("limit must be between 0 and 50"))
			return
		}
		limit = parsed
	}
	mentors, err := h.profiles.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mentors": mentors})
}

func (h *Handler) requestConnection(c *gin.Context) {
	var req struct {
		MentorID string `json:"mentor_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	conn, err := h.connections.RequestConnection(c.Request.Context(), identity(c).UserID, req.MentorID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, conn)
}

func (h *Handler) listConnections(c *gin.Context) {
	id := identity(c)
	role := id.Role
	if v := c.Query("role"); v != "" {
		parsed, err := auth.ParseRole(v)
		if err != nil {
			h.fail(c, err)
			return
		}
		role = parsed
	}
	lists, err := h.connections.ListConnections(c.Request.Context(), id.UserID, role)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lists)
}

func (h *Handler) pendingCount(c *gin.Context) {
	n, err := h.connections.PendingCount(c.Request.Context(), identity(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *Handler) getConnection(c *gin.Context) {
	conn, err := h.connections.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (h *Handler) respondToConnection(c *gin.Context) {
	var req struct {
		Decision string `json:"decision" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	decision, err := connection.ParseDecision(req.Decision)
	if err != nil {
		h.fail(c, err)
		return
	}
	conn, err := h.connections.RespondToConnection(c.Request.Context(), c.Param("id"), decision)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (h *Handler) loadHistory(c *gin.Context) {
	msgs, err := h.messages.LoadHistory(c.Request.Context(), c.Param("peerId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req messaging.Outgoing
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.messages.Send(c.Request.Context(), c.Param("peerId"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) markRead(c *gin.Context) {
	n, err := h.messages.MarkRead(c.Request.Context(), c.Param("peerId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *Handler) unreadCounts(c *gin.Context) {
	counts, err := h.messages.UnreadCounts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": counts})
}
