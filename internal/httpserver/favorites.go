package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bodyshop-storefront/internal/service/favorites"
)

func (h *api) favorites(c *gin.Context) *favorites.Service {
	return favorites.New(h.session(c), h.deps.Bus, h.logger)
}

func (h *api) listFavorites(c *gin.Context) {
	items, err := h.favorites(c).List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// toggleFavorite only needs the catalog when the product is being added.
func (h *api) toggleFavorite(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	favs := h.favorites(c)

	present, err := favs.Contains(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if present {
		count, err := favs.Remove(ctx, id)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"favorite": false, "count": count})
		return
	}

	p, err := h.deps.Catalog.ByID(ctx, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	added, count, err := favs.Toggle(ctx, *p)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorite": added, "count": count})
}

func (h *api) removeFavorite(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	count, err := h.favorites(c).Remove(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorite": false, "count": count})
}

func (h *api) moveFavoriteToCart(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.favorites(c).MoveToCart(c.Request.Context(), id, h.carts(c))
	h.respondCart(c, view, err)
}
