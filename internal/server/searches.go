package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"kokoni/internal/research"
	"kokoni/internal/store"
	"kokoni/internal/tree"
)

// SearchesHandler owns the search lifecycle: creation with seeded
// questions, listing, tree retrieval and deletion.
type SearchesHandler struct {
	Store       *store.Store
	Seeder      *research.Seeder
	MaxSearches int
}

func (h *SearchesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PATCH("/:id", h.rename)
	g.DELETE("/:id", h.delete)
}

func (h *SearchesHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	items, err := h.Store.ListSearches(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.Search{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *SearchesHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req CreateSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}

	ctx := c.Request().Context()
	if h.MaxSearches > 0 {
		n, err := h.Store.CountSearches(ctx, userID)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if n >= h.MaxSearches {
			return echo.NewHTTPError(http.StatusForbidden, "search limit reached; delete a search to create a new one")
		}
	}

	main, subs, err := h.Seeder.InitialQuestions(ctx, req.Query)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	sr, nodes, err := h.Store.CreateSearch(ctx, userID, req.Query, main, subs)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	searchesCreated.Inc()

	nested, err := tree.Reconstruct(sr.RootNodeID, nodes)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, SearchResponse{Search: sr, Tree: nested})
}

func (h *SearchesHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()
	sr, err := h.Store.GetSearch(ctx, c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	nodes, err := h.Store.ListNodes(ctx, sr.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	nested, err := tree.Reconstruct(sr.RootNodeID, nodes)
	if err != nil {
		if errors.Is(err, tree.ErrConsistency) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SearchResponse{Search: sr, Tree: nested})
}

func (h *SearchesHandler) rename(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req RenameSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	ctx := c.Request().Context()
	if err := h.Store.RenameSearch(ctx, c.Param("id"), userID, req.Query); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	sr, err := h.Store.GetSearch(ctx, c.Param("id"), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sr)
}

func (h *SearchesHandler) delete(c echo.Context) error {
	userID := c.Get("user_id").(string)
	if err := h.Store.DeleteSearch(c.Request().Context(), c.Param("id"), userID); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
