package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"kokoni/internal/research"
	"kokoni/internal/store"
	"kokoni/internal/tree"
)

// ReportsHandler triggers report synthesis and serves the stored blocks.
type ReportsHandler struct {
	Store    *store.Store
	Pipeline *research.ReportPipeline
}

// Register mounts the authenticated report routes on searches and the
// unauthenticated share route on share. Anyone holding a search id can
// read its report through /share, matching the public share-link flow.
func (h *ReportsHandler) Register(searches, share *echo.Group, secret []byte) {
	searches.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	searches.POST("/:id/report", h.synthesize)
	searches.GET("/:id/report", h.get)
	share.GET("/:id/report", h.getPublic)
}

func (h *ReportsHandler) synthesize(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()
	sr, err := h.Store.GetSearch(ctx, c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	results, err := h.Pipeline.Synthesize(ctx, sr.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := SynthesizeResponse{SearchID: sr.ID, Results: make([]SynthesizeNodeResult, 0, len(results))}
	for _, r := range results {
		nr := SynthesizeNodeResult{NodeID: r.NodeID, Heading: r.Heading, Failed: r.Failed}
		if r.Err != nil {
			nr.Error = r.Err.Error()
			reportBlocks.WithLabelValues("failed").Inc()
		} else {
			reportBlocks.WithLabelValues("ok").Inc()
		}
		resp.Results = append(resp.Results, nr)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *ReportsHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	sr, err := h.Store.GetSearch(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.respond(c, sr)
}

func (h *ReportsHandler) getPublic(c echo.Context) error {
	sr, err := h.Store.GetSearchByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.respond(c, sr)
}

func (h *ReportsHandler) respond(c echo.Context, sr store.Search) error {
	ctx := c.Request().Context()
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
	blocks, err := h.Store.ListReportBlocks(ctx, sr.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ReportResponse{
		SearchID: sr.ID,
		Query:    sr.Query,
		Blocks:   orderBlocksByTree(nested, blocks),
	})
}

// orderBlocksByTree reorders blocks to the tree's pre-order so the
// assembled report reads top-down through the question tree regardless of
// the order nodes were expanded in.
func orderBlocksByTree(root *tree.NestedNode, blocks []store.ReportBlock) []store.ReportBlock {
	byNode := make(map[int64]store.ReportBlock, len(blocks))
	for _, b := range blocks {
		byNode[b.NodeID] = b
	}
	graphNodes, _ := tree.Project(root)
	out := make([]store.ReportBlock, 0, len(blocks))
	for _, gn := range graphNodes {
		if b, ok := byNode[gn.SourceNodeID]; ok {
			out = append(out, b)
		}
	}
	return out
}
