package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/partyplanner/internal/embeddings"
)

// EmbeddingsHandler serves POST /v1/embeddings.
type EmbeddingsHandler struct {
	Service Embedder
}

func (h *EmbeddingsHandler) Register(g *echo.Group) {
	g.POST("/embeddings", h.create)
	g.GET("/embeddings/models", h.models)
}

func (h *EmbeddingsHandler) create(c echo.Context) error {
	if h.Service == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "embeddings are not enabled")
	}
	var req EmbeddingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.Service.Embed(c.Request().Context(), embeddings.Request{
		Input:  req.Input,
		Model:  req.Model,
		Intent: embeddings.Intent(req.Intent),
	})
	if err != nil {
		if errors.Is(err, embeddings.ErrUnknownModel) || errors.Is(err, embeddings.ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, EmbeddingsResponse{Model: res.Model, Embeddings: res.Embeddings, Dimensions: res.Dimensions})
}

func (h *EmbeddingsHandler) models(c echo.Context) error {
	return c.JSON(http.StatusOK, embeddings.Models())
}
