package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bodyshop-storefront/internal/backend"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// issueSession hands out a guest session id as both a cookie and a body field.
func (h *api) issueSession(c *gin.Context) {
	id := h.deps.Auth.IssueSession()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, id, 0, "/", "", h.opts.SecureCookie, true)
	c.Header(sessionHeader, id)
	c.JSON(http.StatusCreated, gin.H{"session_id": id})
}

func (h *api) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "username and password are required")
		return
	}
	profile, err := h.deps.Auth.Login(c.Request.Context(), h.session(c), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.carts(c).Invalidate()
	c.JSON(http.StatusOK, gin.H{"user": profile})
}

func (h *api) register(c *gin.Context) {
	var in backend.RegisterInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	res, err := h.deps.Auth.Register(c.Request.Context(), h.session(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if res.LoggedIn {
		h.carts(c).Invalidate()
	}
	c.JSON(http.StatusCreated, res)
}

func (h *api) refresh(c *gin.Context) {
	if err := h.deps.Auth.Refresh(c.Request.Context(), h.session(c)); err != nil {
		h.carts(c).Invalidate()
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *api) logout(c *gin.Context) {
	if err := h.deps.Auth.Logout(c.Request.Context(), h.session(c)); err != nil {
		h.writeError(c, err)
		return
	}
	h.carts(c).Invalidate()
	c.JSON(http.StatusOK, gin.H{"redirect": "/"})
}

func (h *api) authStatus(c *gin.Context) {
	status, err := h.deps.Auth.Status(c.Request.Context(), h.session(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}
