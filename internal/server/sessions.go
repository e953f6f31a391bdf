package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chatvault/chatvault/internal/ingest"
	"github.com/chatvault/chatvault/internal/store"
)

// ingestor is the slice of the ingestion pipeline the handler needs.
type ingestor interface {
	Ingest(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

// sessionStore is the slice of the store the session handlers need.
type sessionStore interface {
	ListSessions(ctx context.Context, limit, offset int) ([]store.SessionRecord, error)
	GetSession(ctx context.Context, id string) (store.SessionRecord, bool, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	UpdateSessionMetadata(ctx context.Context, id string, patch map[string]interface{}) (bool, error)
}

// SessionsHandler exposes archive CRUD over HTTP.
type SessionsHandler struct {
	Store   sessionStore
	Ingest  ingestor
	Metrics *Metrics
	Cache   *AnswerCache
	Secret  []byte
	Logger  *log.Logger
}

// Metadata keys a caller may patch. Everything else on a session is
// immutable after creation.
var mutableMetadataKeys = map[string]bool{
	"favorite":          true,
	"category":          true,
	"enhanced_category": true,
	"keywords":          true,
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	if len(h.Secret) > 0 {
		guard := authMiddleware(h.Secret)
		g.DELETE("/:id", h.delete, guard)
		g.PATCH("/:id/metadata", h.patchMetadata, guard)
	} else {
		g.DELETE("/:id", h.delete)
		g.PATCH("/:id/metadata", h.patchMetadata)
	}
}

type sessionSummary struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	URL       string                 `json:"url"`
	Summary   string                 `json:"summary"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func toSessionSummary(rec store.SessionRecord) sessionSummary {
	return sessionSummary{
		ID:        rec.ID,
		Title:     rec.Title,
		URL:       rec.URL,
		Summary:   rec.Summary,
		Metadata:  rec.Metadata,
		CreatedAt: rec.CreatedAt,
	}
}

func (h *SessionsHandler) create(c echo.Context) error {
	var req ingest.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	res, err := h.Ingest.Ingest(c.Request().Context(), req)
	if err != nil {
		h.count("error")
		h.logger().Printf("ingest failed for %s: %v", req.URL, err)
		return echo.NewHTTPError(http.StatusBadGateway, "failed to archive session")
	}
	if res.Duplicate {
		h.count("duplicate")
		return c.JSON(http.StatusOK, res)
	}
	h.count("archived")
	return c.JSON(http.StatusCreated, res)
}

func (h *SessionsHandler) list(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	recs, err := h.Store.ListSessions(c.Request().Context(), limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}
	out := make([]sessionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toSessionSummary(rec))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *SessionsHandler) get(c echo.Context) error {
	rec, found, err := h.Store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load session")
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":         rec.ID,
		"title":      rec.Title,
		"url":        rec.URL,
		"summary":    rec.Summary,
		"messages":   rec.Messages,
		"metadata":   rec.Metadata,
		"created_at": rec.CreatedAt,
	})
}

func (h *SessionsHandler) delete(c echo.Context) error {
	found, err := h.Store.DeleteSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete session")
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	// chunks cascade with the row; cached answers may cite them
	h.Cache.Flush(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) patchMetadata(c echo.Context) error {
	var patch map[string]interface{}
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	filtered := make(map[string]interface{}, len(patch))
	for k, v := range patch {
		if mutableMetadataKeys[k] {
			filtered[k] = v
		}
	}
	if len(filtered) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no mutable metadata keys in patch")
	}
	found, err := h.Store.UpdateSessionMetadata(c.Request().Context(), c.Param("id"), filtered)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update metadata")
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SessionsHandler) count(result string) {
	if h.Metrics != nil {
		h.Metrics.IngestTotal.WithLabelValues(result).Inc()
	}
}

func (h *SessionsHandler) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}
