package httpserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/service/catalog"
)

func (h *api) listProducts(c *gin.Context) {
	var f catalog.Filter
	if err := c.ShouldBindQuery(&f); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}
	verr := &domain.ValidationError{}
	f.MinPrice = queryDecimal(c, "min_price", verr)
	f.MaxPrice = queryDecimal(c, "max_price", verr)
	if err := verr.OrNil(); err != nil {
		h.writeError(c, err)
		return
	}

	page, err := h.deps.Catalog.List(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *api) getProduct(c *gin.Context) {
	p, err := h.deps.Catalog.BySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func queryDecimal(c *gin.Context, key string, verr *domain.ValidationError) *decimal.Decimal {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		verr.Add(key, "must be a number")
		return nil
	}
	return &d
}
