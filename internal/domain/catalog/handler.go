package catalog

import (
	"net/http"
	"strconv"

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
	// Read endpoints - any authenticated staff
	api.GET("/tests", h.List)
	api.GET("/tests/:id", h.Get)
	api.GET("/tests/:id/form-structure", h.FormStructure)

	// Write endpoints - admin, doctor
	writeGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	writeGroup.POST("/tests", h.Create)
	writeGroup.PUT("/tests/:id", h.Update)
	writeGroup.POST("/tests/:id/subtests", h.AddSubTest)
	writeGroup.PUT("/tests/:id/subtests/:subTestId", h.UpdateSubTest)
	writeGroup.POST("/tests/:id/fields", h.AddField)
	writeGroup.PUT("/tests/:id/fields/:fieldId", h.UpdateField)

	// Destructive endpoints - admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.DELETE("/tests/:id", h.Deactivate)
	adminGroup.DELETE("/tests/:id/subtests/:subTestId", h.RemoveSubTest)
	adminGroup.DELETE("/tests/:id/fields/:fieldId", h.RemoveField)
}

func (h *Handler) Create(c echo.Context) error {
	var td TestDefinition
	if err := c.Bind(&td); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &td); err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, td)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	td, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, td)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)

	var filter ListFilter
	filter.Search = c.QueryParam("search")
	if cat := c.QueryParam("category"); cat != "" && cat != "all" {
		category := Category(cat)
		if !ValidCategory(category) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid category")
		}
		filter.Category = &category
	}
	// Inactive definitions stay hidden unless asked for, matching the
	// catalog's soft-delete model.
	activeParam := c.QueryParam("active")
	if activeParam == "" {
		activeParam = "true"
	}
	if activeParam != "all" {
		active, err := strconv.ParseBool(activeParam)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active filter")
		}
		filter.Active = &active
	}

	items, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var patch Patch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	td, err := h.svc.Update(c.Request().Context(), id, patch)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, td)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	td, err := h.svc.Deactivate(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, td)
}

func (h *Handler) FormStructure(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	fs, err := h.svc.FormStructure(c.Request().Context(), id)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, fs)
}

// -- Sub-test handlers --

func (h *Handler) AddSubTest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var spec SubTestSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	td, err := h.svc.AddSubTest(c.Request().Context(), id, spec)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, td)
}

func (h *Handler) UpdateSubTest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	subTestID, err := uuid.Parse(c.Param("subTestId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sub-test id")
	}
	var patch SubTestPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	td, err := h.svc.UpdateSubTest(c.Request().Context(), id, subTestID, patch)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, td)
}

func (h *Handler) RemoveSubTest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	subTestID, err := uuid.Parse(c.Param("subTestId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid sub-test id")
	}
	td, err := h.svc.RemoveSubTest(c.Request().Context(), id, subTestID)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, td)
}

// -- Additional-field handlers --

func (h *Handler) AddField(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var spec AdditionalFieldSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	td, err := h.svc.AddField(c.Request().Context(), id, spec)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, td)
}

func (h *Handler) UpdateField(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	fieldID, err := uuid.Parse(c.Param("fieldId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid field id")
	}
	var patch FieldPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	td, err := h.svc.UpdateField(c.Request().Context(), id, fieldID, patch)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, td)
}

func (h *Handler) RemoveField(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	fieldID, err := uuid.Parse(c.Param("fieldId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid field id")
	}
	td, err := h.svc.RemoveField(c.Request().Context(), id, fieldID)
	if err != nil {
		return apperror.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, td)
}
