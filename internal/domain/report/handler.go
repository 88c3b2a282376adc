package report

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/labcore/labcore/internal/platform/apperror"
	"github.com/labcore/labcore/internal/platform/auth"
	"github.com/labcore/labcore/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Any authenticated staff can capture and consult reports.
	api.POST("/reports", h.Create)
	api.GET("/reports", h.List)
	api.GET("/reports/stats", h.Stats)
	api.GET("/reports/folio/:folio", h.GetByFolio)
	api.GET("/reports/patient/:patientId", h.PatientHistory)
	api.GET("/reports/:id", h.Get)
	api.PUT("/reports/:id", h.Update)

	// Sign-off needs a clinician; voiding a report needs an admin.
	api.PUT("/reports/:id/authorize", h.Authorize, auth.RequireRole(auth.RoleDoctor))
	api.DELETE("/reports/:id", h.Cancel, auth.RequireRole(auth.RoleAdmin))
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	performedBy := auth.ActorIDFromContext(c.Request().Context())
	r, err := h.svc.Create(c.Request().Context(), in, performedBy)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) GetByFolio(c echo.Context) error {
	r, err := h.svc.GetByFolio(c.Request().Context(), c.Param("folio"))
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	filter, err := listFilterFromQuery(c)
	if err != nil {
		return err
	}

	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func listFilterFromQuery(c echo.Context) (ListFilter, error) {
	var filter ListFilter
	filter.FolioSearch = c.QueryParam("search")

	if st := c.QueryParam("state"); st != "" && st != "all" {
		state := State(st)
		if !ValidState(state) {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid state filter")
		}
		filter.State = &state
	}
	var err error
	if filter.From, err = parseDateParam(c.QueryParam("from")); err != nil {
		return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
	}
	if filter.To, err = parseDateParam(c.QueryParam("to")); err != nil {
		return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
	}
	if pid := c.QueryParam("patient_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		filter.PatientID = &id
	}
	if tid := c.QueryParam("test_id"); tid != "" {
		id, err := uuid.Parse(tid)
		if err != nil {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid test_id")
		}
		filter.TestID = &id
	}
	return filter, nil
}

// parseDateParam accepts a date or a full timestamp, both optional.
func parseDateParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid date")
}

func (h *Handler) PatientHistory(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	pg := pagination.FromContext(c)

	items, err := h.svc.PatientHistory(c.Request().Context(), patientID, pg.Limit)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	summaries := make([]Summary, 0, len(items))
	for _, r := range items {
		summaries = append(summaries, r.Summary())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": summaries})
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch UpdatePatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Update(c.Request().Context(), id, patch)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Authorize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	authorizedBy := auth.ActorIDFromContext(c.Request().Context())
	r, err := h.svc.Authorize(c.Request().Context(), id, authorizedBy)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) Stats(c echo.Context) error {
	from, err := parseDateParam(c.QueryParam("from"))
	if err != nil {
		return err
	}
	to, err := parseDateParam(c.QueryParam("to"))
	if err != nil {
		return err
	}
	stats, err := h.svc.Stats(c.Request().Context(), from, to)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, stats)
}
