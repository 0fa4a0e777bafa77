package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"kokoni/internal/store"
	"kokoni/internal/tree"
	"kokoni/tools/web_fetch"
)

// SourcesHandler manages a search's supporting material and its links to
// report blocks. A source created with a URL and no content gets the
// page's readable text fetched in.
type SourcesHandler struct {
	Store   *store.Store
	Fetcher web_fetch.WebFetcher // optional
}

func (h *SourcesHandler) Register(searches, sources, blocks *echo.Group, secret []byte) {
	authed := func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) }
	searches.GET("/:id/sources", h.list, authed)
	searches.POST("/:id/sources", h.create, authed)
	sources.Use(authed)
	sources.PUT("/:id", h.update)
	sources.DELETE("/:id", h.delete)
	blocks.Use(authed)
	blocks.GET("/:id/sources", h.listBlock)
	blocks.POST("/:id/sources", h.attach)
	blocks.DELETE("/:id/sources", h.detach)
}

func (h *SourcesHandler) ownSearch(c echo.Context) (store.Search, error) {
	userID := c.Get("user_id").(string)
	sr, err := h.Store.GetSearch(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return store.Search{}, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return store.Search{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return sr, nil
}

func (h *SourcesHandler) ownSource(c echo.Context) (store.Source, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return store.Source{}, echo.NewHTTPError(http.StatusBadRequest, "invalid source id")
	}
	ctx := c.Request().Context()
	src, err := h.Store.GetSource(ctx, id)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return store.Source{}, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return store.Source{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	userID := c.Get("user_id").(string)
	if _, err := h.Store.GetSearch(ctx, src.SearchID, userID); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return store.Source{}, echo.NewHTTPError(http.StatusNotFound, "source not found")
		}
		return store.Source{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return src, nil
}

func (h *SourcesHandler) list(c echo.Context) error {
	sr, err := h.ownSearch(c)
	if err != nil {
		return err
	}
	items, err := h.Store.ListSources(c.Request().Context(), sr.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.Source{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *SourcesHandler) create(c echo.Context) error {
	sr, err := h.ownSearch(c)
	if err != nil {
		return err
	}
	var req CreateSourceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Title = strings.TrimSpace(req.Title)
	req.URL = strings.TrimSpace(req.URL)
	if req.Title == "" && req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title or url required")
	}

	ctx := c.Request().Context()
	if req.Content == "" && req.URL != "" && h.Fetcher != nil {
		page, err := h.Fetcher.Exec(ctx, req.URL)
		if err == nil && page.Status == http.StatusOK {
			req.Content = page.Text
			if req.Title == "" {
				req.Title = page.Title
			}
		}
	}
	if req.Title == "" {
		req.Title = req.URL
	}
	src, err := h.Store.CreateSource(ctx, sr.ID, req.Title, req.URL, req.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, src)
}

func (h *SourcesHandler) update(c echo.Context) error {
	src, err := h.ownSource(c)
	if err != nil {
		return err
	}
	var req UpdateSourceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.Store.UpdateSource(c.Request().Context(), src.ID, req.Title, req.URL, req.Content)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *SourcesHandler) delete(c echo.Context) error {
	src, err := h.ownSource(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteSource(c.Request().Context(), src.ID); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SourcesHandler) ownBlock(c echo.Context) (store.ReportBlock, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return store.ReportBlock{}, echo.NewHTTPError(http.StatusBadRequest, "invalid block id")
	}
	userID := c.Get("user_id").(string)
	b, err := h.Store.GetReportBlockOwned(c.Request().Context(), id, userID)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return store.ReportBlock{}, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return store.ReportBlock{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return b, nil
}

func (h *SourcesHandler) listBlock(c echo.Context) error {
	b, err := h.ownBlock(c)
	if err != nil {
		return err
	}
	items, err := h.Store.ListBlockSources(c.Request().Context(), b.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []store.Source{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *SourcesHandler) attach(c echo.Context) error {
	b, err := h.ownBlock(c)
	if err != nil {
		return err
	}
	var req BlockSourcesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.AttachSources(c.Request().Context(), b.ID, req.SourceIDs); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SourcesHandler) detach(c echo.Context) error {
	b, err := h.ownBlock(c)
	if err != nil {
		return err
	}
	var req BlockSourcesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.DetachSources(c.Request().Context(), b.ID, req.SourceIDs); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
