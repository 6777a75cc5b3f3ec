package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/enginelhq/enginel-backend/internal/geometry"
	"github.com/enginelhq/enginel-backend/internal/services"
)

type AssetsHandler struct {
	assets services.AssetService
}

func NewAssetsHandler(assets services.AssetService) *AssetsHandler {
	return &AssetsHandler{assets: assets}
}

func assetStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrAssetNotFound), errors.Is(err, services.ErrSeriesNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrEmptyUpload):
		return http.StatusBadRequest, "empty_upload"
	case errors.Is(err, services.ErrInvalidUnit):
		return http.StatusBadRequest, "invalid_unit"
	case errors.Is(err, services.ErrInvalidClassification):
		return http.StatusBadRequest, "invalid_classification"
	case errors.Is(err, geometry.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "unsupported_format"
	case errors.Is(err, geometry.ErrCorruptedFile):
		return http.StatusUnprocessableEntity, "corrupted_file"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// POST /api/assets
func (h *AssetsHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_file", err)
		return
	}

	input := services.UploadInput{
		SeriesName:     c.PostForm("series_name"),
		PartNumber:     c.PostForm("part_number"),
		Description:    c.PostForm("description"),
		Classification: c.PostForm("classification"),
		Units:          c.PostForm("units"),
		Filename:       fileHeader.Filename,
		Data:           data,
	}
	if raw := c.PostForm("series_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_series_id", err)
			return
		}
		input.SeriesID = id
	}

	asset, taskID, err := h.assets.Upload(c.Request.Context(), input)
	if err != nil {
		status, code := assetStatus(err)
		RespondError(c, status, code, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"asset": asset, "task_id": taskID})
}

// GET /api/assets/:id
func (h *AssetsHandler) Get(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	asset, err := h.assets.Get(c.Request.Context(), id)
	if err != nil {
		status, code := assetStatus(err)
		RespondError(c, status, code, err)
		return
	}
	RespondOK(c, gin.H{"asset": asset})
}

// GET /api/assets/:id/bom
func (h *AssetsHandler) GetBOM(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	nodes, err := h.assets.ListBOM(c.Request.Context(), id)
	if err != nil {
		status, code := assetStatus(err)
		RespondError(c, status, code, err)
		return
	}
	RespondOK(c, gin.H{"nodes": nodes})
}

// GET /api/assets/:id/geometry
func (h *AssetsHandler) InspectGeometry(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	result, err := h.assets.InspectGeometry(c.Request.Context(), id)
	if err != nil {
		status, code := assetStatus(err)
		RespondError(c, status, code, err)
		return
	}
	RespondOK(c, gin.H{"geometry": result})
}

// POST /api/assets/:id/process
func (h *AssetsHandler) Process(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	taskID, err := h.assets.Reprocess(c.Request.Context(), id)
	if err != nil {
		status, code := assetStatus(err)
		RespondError(c, status, code, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID})
}

// POST /api/assets/:id/bom
func (h *AssetsHandler) ExtractBOM(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	summary, err := h.assets.ExtractBOM(c.Request.Context(), id)
	if err != nil {
		status, code := assetStatus(err)
		RespondError(c, status, code, err)
		return
	}
	RespondOK(c, summary)
}

// POST /api/assets/:id/normalize-units
func (h *AssetsHandler) NormalizeUnits(c *gin.Context) {
	id, ok := h.assetID(c)
	if !ok {
		return
	}
	var body struct {
		Unit string `json:"unit"`
	}
	// body is optional; a bare POST normalizes from the recorded unit
	_ = c.ShouldBindJSON(&body)
	if body.Unit == "" {
		body.Unit = c.Query("unit")
	}

	summary, err := h.assets.NormalizeUnits(c.Request.Context(), id, body.Unit)
	if err != nil {
		status, code := assetStatus(err)
		RespondError(c, status, code, err)
		return
	}
	RespondOK(c, summary)
}

func (h *AssetsHandler) assetID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_asset_id", fmt.Errorf("invalid asset id: %w", err))
		return uuid.Nil, false
	}
	return id, true
}
