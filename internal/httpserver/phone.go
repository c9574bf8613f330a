package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"bodyshop-storefront/internal/phone"
)

type phoneRequest struct {
	Value string `json:"value"`
	// Caret is the cursor offset inside Value, when the client tracks one.
	Caret *int `json:"caret,omitempty"`
}

func (h *api) validatePhone(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, phone.Validate(req.Value))
}

// formatPhone re-masks the editable "(XX) XXXXXXX" part and returns where the
// caret should land.
func (h *api) formatPhone(c *gin.Context) {
	var req phoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body: "+err.Error())
		return
	}
	editable := phone.EditablePartFromFull(req.Value)
	resp := gin.H{
		"masked":   phone.FormatInput(req.Value),
		"editable": editable,
		"full":     phone.FullFromEditablePart(editable),
	}
	if req.Caret != nil {
		resp["caret"] = phone.DigitIndexToPos(phone.CountDigitsBefore(req.Value, *req.Caret))
	}
	c.JSON(http.StatusOK, resp)
}
