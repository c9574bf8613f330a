package httpserver

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/export"
)

func (h *api) prepareCheckout(c *gin.Context) {
	summary, err := h.deps.Checkout.Prepare(c.Request.Context(), h.session(c), c.Query("city"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *api) submitOrder(c *gin.Context) {
	var form domain.OrderForm
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	conf, err := h.deps.Checkout.SubmitOrder(c.Request.Context(), h.session(c), form, h.carts(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conf)
}

// exportHistory renders the workbook into memory first so a failure can
// still be reported as JSON.
func (h *api) exportHistory(c *gin.Context) {
	var buf bytes.Buffer
	if err := export.SessionHistory(c.Request.Context(), h.session(c), &buf); err != nil {
		h.writeError(c, err)
		return
	}
	name := fmt.Sprintf("history-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}
