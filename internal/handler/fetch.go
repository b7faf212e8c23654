package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"fetch-proxy-go/internal/model"
	"fetch-proxy-go/internal/service"
)

// FetchHandler serves the /fetch/{target_url} endpoint.
type FetchHandler struct {
	service *service.FetchService
	logger  *slog.Logger
}

// NewFetchHandler creates a FetchHandler.
func NewFetchHandler(svc *service.FetchService, logger *slog.Logger) *FetchHandler {
	return &FetchHandler{
		service: svc,
		logger:  logger.With("component", "fetch_handler"),
	}
}

// Handle replays the inbound request against the target URL embedded in the
// path and returns the normalized JSON envelope. The proxy's own status is
// 200 whenever the pipeline succeeds, regardless of the upstream status.
func (h *FetchHandler) Handle(c echo.Context) error {
	req := c.Request()

	fr := &model.FetchRequest{
		Ctx:       req.Context(),
		Method:    req.Method,
		TargetURL: c.Param("*"),
		Query:     c.QueryParams(),
		Header:    req.Header,
		Body:      req.Body,
	}

	env, err := h.service.Fetch(fr)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, env)
}

// mapError performs the single error→wire translation. Classified errors carry
// their own caller-visible message and status; anything else is downgraded to
// a generic 500 and only logged server-side.
func (h *FetchHandler) mapError(c echo.Context, err error) error {
	var pe *service.Error
	if errors.As(err, &pe) {
		h.logger.Error("proxy error",
			"err", pe.Message,
			"status", pe.StatusCode(),
			"target", c.Param("*"),
		)
		return c.JSON(pe.StatusCode(), map[string]string{"error": pe.Message})
	}

	h.logger.Error("unexpected error",
		"err", err,
		"target", c.Param("*"),
	)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "Internal server error",
	})
}
