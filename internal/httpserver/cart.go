package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bodyshop-storefront/internal/domain"
	"bodyshop-storefront/internal/importer"
	"bodyshop-storefront/internal/service/cart"
	"bodyshop-storefront/internal/session"
)

type addItemRequest struct {
	domain.ProductRef
	Quantity *int `json:"quantity"`
}

func (r addItemRequest) quantity() int {
	if r.Quantity == nil {
		return 1
	}
	return *r.Quantity
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *api) carts(c *gin.Context) *cart.Service {
	return h.deps.Carts.Get(sessionFrom(c))
}

func (h *api) session(c *gin.Context) *session.Session {
	return session.New(sessionFrom(c), h.deps.State, h.logger)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		badRequest(c, fmt.Sprintf("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}

func (h *api) respondCart(c *gin.Context, view cart.View, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *api) getCart(c *gin.Context) {
	view, err := h.carts(c).Load(c.Request.Context())
	h.respondCart(c, view, err)
}

func (h *api) addCartItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	view, err := h.carts(c).AddItem(c.Request.Context(), req.ProductRef, req.quantity())
	h.respondCart(c, view, err)
}

func (h *api) updateCartItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "quantity is required")
		return
	}
	view, err := h.carts(c).UpdateQuantity(c.Request.Context(), id, *req.Quantity)
	h.respondCart(c, view, err)
}

func (h *api) increaseCartItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.carts(c).Increase(c.Request.Context(), id)
	h.respondCart(c, view, err)
}

func (h *api) decreaseCartItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.carts(c).Decrease(c.Request.Context(), id)
	h.respondCart(c, view, err)
}

func (h *api) removeCartItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.carts(c).RemoveItem(c.Request.Context(), id)
	h.respondCart(c, view, err)
}

// buyProduct is the product page's buy button.
func (h *api) buyProduct(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	if req.IsZero() {
		h.writeError(c, domain.ErrProductRef)
		return
	}
	ctx := c.Request.Context()
	p, err := h.deps.Catalog.Resolve(ctx, req.ProductRef)
	if err != nil {
		h.writeError(c, err)
		return
	}
	view, err := h.carts(c).BuyProduct(ctx, *p, req.quantity())
	h.respondCart(c, view, err)
}

func (h *api) proceedToCheckout(c *gin.Context) {
	route, err := h.carts(c).ProceedToCheckout(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"redirect": route})
}

// importCart accepts the CSV either as the raw body or as a multipart "file" field.
func (h *api) importCart(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxImportBytes)

	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "multipart upload needs a file field")
			return
		}
		f, err := openUpload(fh)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		defer f.Close()
		src = f
	}

	res, err := importer.NewCSVImporter(src, h.carts(c)).Run(c.Request.Context())
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, errorBody("import file is too large"))
		case errors.Is(err, importer.ErrMalformed), errors.Is(err, importer.ErrMissingColumns):
			badRequest(c, err.Error())
		default:
			h.writeError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func openUpload(fh *multipart.FileHeader) (multipart.File, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	return f, nil
}
