package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/labcore/labcore/internal/platform/auth"
)

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()
	return h, f, e
}

func withActor(c echo.Context, actorID string) {
	ctx := context.WithValue(c.Request().Context(), auth.ActorIDKey, actorID)
	c.SetRequest(c.Request().WithContext(ctx))
}

func TestHandler_Create(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"patient_id":"` + f.patient.ID.String() + `","test_id":"` + f.def.ID.String() + `",` +
		`"results":[{"key":"vih","value":"REACTIVO"}]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	withActor(c, "lab-1")

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if abnormal, _ := out["has_abnormal_results"].(bool); !abnormal {
		t.Error("expected abnormal-results flag in response")
	}
	if out["performed_by"] != "lab-1" {
		t.Errorf("expected performed_by lab-1, got %v", out["performed_by"])
	}
}

func TestHandler_Create_MissingRequired(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"patient_id":"` + f.patient.ID.String() + `","test_id":"` + f.def.ID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	withActor(c, "lab-1")

	err := h.Create(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetByFolio(t *testing.T) {
	h, f, e := newTestHandler()
	r, err := f.svc.Create(context.Background(), f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("folio")
	c.SetParamValues(strings.ToLower(strings.TrimPrefix(r.Folio, "#")))

	if err := h.GetByFolio(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Authorize(t *testing.T) {
	h, f, e := newTestHandler()
	r, err := f.svc.Create(context.Background(), f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	withActor(c, "doc-1")

	if err := h.Authorize(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["state"] != string(StateDelivered) {
		t.Errorf("expected delivered, got %v", out["state"])
	}
	if out["authorized_by"] != "doc-1" {
		t.Errorf("expected authorized_by doc-1, got %v", out["authorized_by"])
	}
}

func TestHandler_Cancel_ThenAuthorizeConflicts(t *testing.T) {
	h, f, e := newTestHandler()
	r, err := f.svc.Create(context.Background(), f.createInput(), "lab-1")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	if err := h.Cancel(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req = httptest.NewRequest(http.MethodPut, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(r.ID.String())
	withActor(c, "doc-1")

	err = h.Authorize(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_List_InvalidState(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?state=bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.List(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Stats(t *testing.T) {
	h, f, e := newTestHandler()
	if _, err := f.svc.Create(context.Background(), f.createInput(), "lab-1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?from=2020-01-01", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Stats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Total != 1 {
		t.Errorf("expected total 1, got %d", out.Total)
	}
}

func TestHandler_PatientHistory(t *testing.T) {
	h, f, e := newTestHandler()
	if _, err := f.svc.Create(context.Background(), f.createInput(), "lab-1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patientId")
	c.SetParamValues(f.patient.ID.String())

	if err := h.PatientHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Data []Summary `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Data) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(out.Data))
	}
	row := out.Data[0]
	if !FolioPattern.MatchString(row.Folio) {
		t.Errorf("unexpected folio %q", row.Folio)
	}
	if row.Patient != f.patient.Name || row.Test != f.def.Name {
		t.Errorf("expected snapshot names in row, got %+v", row)
	}
}

func TestHandler_Get_BadID(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
