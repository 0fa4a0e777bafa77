package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"kokoni/internal/research"
	"kokoni/internal/store"
	"kokoni/internal/tree"
)

// NodesHandler owns per-node operations: expansion, deletion and the
// renderable graph projection of a search's tree.
type NodesHandler struct {
	Store    *store.Store
	Expander *research.Expander
}

func (h *NodesHandler) Register(searches, nodes *echo.Group, secret []byte) {
	searches.GET("/:id/graph", h.graph, func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	nodes.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	nodes.POST("/:id/expand", h.expand)
	nodes.DELETE("/:id", h.delete)
}

// ownNode resolves a node id from the path and verifies the caller owns
// the search it belongs to.
func (h *NodesHandler) ownNode(c echo.Context) (tree.Node, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return tree.Node{}, echo.NewHTTPError(http.StatusBadRequest, "invalid node id")
	}
	ctx := c.Request().Context()
	node, err := h.Store.GetNode(ctx, id)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return tree.Node{}, echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return tree.Node{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	userID := c.Get("user_id").(string)
	if _, err := h.Store.GetSearch(ctx, node.SearchID, userID); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return tree.Node{}, echo.NewHTTPError(http.StatusNotFound, "node not found")
		}
		return tree.Node{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return node, nil
}

func (h *NodesHandler) expand(c echo.Context) error {
	node, err := h.ownNode(c)
	if err != nil {
		return err
	}
	t0 := time.Now()
	exp, err := h.Expander.Expand(c.Request().Context(), node.ID)
	expansionDuration.Observe(time.Since(t0).Seconds())
	if err != nil {
		if errors.Is(err, research.ErrExpansion) {
			nodeExpansions.WithLabelValues("failed").Inc()
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		nodeExpansions.WithLabelValues("error").Inc()
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	nodeExpansions.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, ExpandResponse{NodeID: node.ID, Summary: exp.Summary, Children: exp.Children})
}

func (h *NodesHandler) delete(c echo.Context) error {
	node, err := h.ownNode(c)
	if err != nil {
		return err
	}
	if err := h.Store.DeleteNode(c.Request().Context(), node.ID); err != nil {
		switch {
		case errors.Is(err, store.ErrRootNode):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, tree.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *NodesHandler) graph(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ctx := c.Request().Context()
	sr, err := h.Store.GetSearch(ctx, c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	flat, err := h.Store.ListNodes(ctx, sr.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	nested, err := tree.Reconstruct(sr.RootNodeID, flat)
	if err != nil {
		if errors.Is(err, tree.ErrConsistency) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	gnodes, gedges := tree.Project(nested)
	dir := tree.Direction(c.QueryParam("direction"))
	positioned, err := tree.Layout(gnodes, gedges, dir)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if gedges == nil {
		gedges = []tree.GraphEdge{}
	}
	return c.JSON(http.StatusOK, GraphResponse{Nodes: positioned, Edges: gedges})
}
