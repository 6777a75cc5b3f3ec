package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/enginelhq/enginel-backend/internal/units"
)

type UnitsHandler struct{}

func NewUnitsHandler() *UnitsHandler {
	return &UnitsHandler{}
}

// GET /api/convert?value&from&to&kind
func (h *UnitsHandler) Convert(c *gin.Context) {
	value, err := strconv.ParseFloat(c.Query("value"), 64)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_value", fmt.Errorf("invalid value: %w", err))
		return
	}
	from := c.Query("from")
	to := c.Query("to")
	kind := c.DefaultQuery("kind", "length")

	var converted float64
	switch kind {
	case "length":
		converted, err = units.Length(value, from, to)
	case "area":
		converted, err = units.Area(value, from, to)
	case "volume":
		converted, err = units.Volume(value, from, to)
	case "mass":
		converted, err = units.Mass(value, from, to)
	default:
		RespondError(c, http.StatusBadRequest, "invalid_kind", fmt.Errorf("unsupported measurement type: %s", kind))
		return
	}
	if err != nil {
		RespondError(c, http.StatusBadRequest, "conversion_failed", err)
		return
	}
	RespondOK(c, gin.H{
		"value":     value,
		"from":      from,
		"to":        to,
		"kind":      kind,
		"converted": converted,
		"formatted": units.FormatDimension(converted, to, 3),
	})
}

// GET /api/units
func (h *UnitsHandler) Supported(c *gin.Context) {
	supported := units.Supported()
	names := make(map[string]string, len(supported))
	for _, u := range supported {
		names[u] = units.Name(u)
	}
	RespondOK(c, gin.H{
		"base_unit": units.BaseLength,
		"supported": supported,
		"names":     names,
	})
}

// GET /api/units/detect?filename=
func (h *UnitsHandler) Detect(c *gin.Context) {
	filename := c.Query("filename")
	if filename == "" {
		RespondError(c, http.StatusBadRequest, "missing_filename", fmt.Errorf("filename query parameter is required"))
		return
	}
	RespondOK(c, gin.H{
		"filename": filename,
		"unit":     units.DetectFromFilename(filename),
	})
}
