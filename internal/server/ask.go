package server

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/query"
)

// answerer is the slice of the query pipeline the handler needs.
type answerer interface {
	Answer(ctx context.Context, req query.Request) (query.Response, error)
}

// AskHandler exposes the question-answering endpoint.
type AskHandler struct {
	Pipeline answerer
	Cache    *AnswerCache
	Logger   *log.Logger
}

func (h *AskHandler) Register(g *echo.Group) {
	g.POST("/ask", h.ask)
}

func (h *AskHandler) ask(c echo.Context) error {
	var req query.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	ctx := c.Request().Context()
	if resp, ok := h.Cache.Get(ctx, req); ok {
		return c.JSON(http.StatusOK, resp)
	}

	resp, err := h.Pipeline.Answer(ctx, req)
	if err != nil {
		if errors.Is(err, query.ErrSearchUnavailable) {
			h.logger().Printf("search backend failure: %v", err)
			return echo.NewHTTPError(http.StatusBadGateway, "search backend unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Cache.Put(ctx, req, resp)
	return c.JSON(http.StatusOK, resp)
}

func (h *AskHandler) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}
