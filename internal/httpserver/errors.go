package httpserver

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/service/auth"
)

const loginRoute = "/login"

func errorBody(msg string) gin.H {
	return gin.H{"error": msg}
}

// writeError maps a service error onto the response. Backend rejections are
// passed through with their own status and payload.
func (h *api) writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var (
		apiErr     *domain.APIError
		contentErr *domain.ContentError
		verr       *domain.ValidationError
		urlErr     *url.Error
		netErr     net.Error
	)
	switch {
	case errors.Is(err, domain.ErrSignInRequired), errors.Is(err, domain.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "redirect": loginRoute})
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorBody(err.Error()))
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "fields": verr.Fields})
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		if len(apiErr.Payload) > 0 && json.Valid(apiErr.Payload) {
			c.Data(status, "application/json; charset=utf-8", apiErr.Payload)
			return
		}
		c.JSON(status, gin.H{"error": apiErr.Message(), "status": apiErr.Status})
	case errors.As(err, &contentErr), errors.Is(err, domain.ErrUnexpectedContent):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":  "the shop backend answered with a non-JSON page; the storefront is misconfigured",
			"detail": err.Error(),
		})
	case errors.Is(err, domain.ErrItemBusy), errors.Is(err, domain.ErrEmptyCart):
		c.JSON(http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrProductRef):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.As(err, &netErr) && netErr.Timeout():
		c.JSON(http.StatusGatewayTimeout, errorBody("the shop backend did not answer in time"))
	case errors.As(err, &urlErr):
		c.JSON(http.StatusBadGateway, errorBody("the shop backend is unreachable"))
	default:
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled error")
		c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}

// badRequest answers a request that could not be bound.
func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(msg))
}
