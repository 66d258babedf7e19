package user

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/testutil"
	"github.com/zbnerd/TutorFlow/pkg/middleware"
)

func TestHandlerAvailability(t *testing.T) {
	svc, st := newService(t)
	tutor := domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleTutor), Role: domain.RoleTutor}
	student := domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleStudent), Role: domain.RoleStudent}

	router := chi.NewRouter()
	router.Use(middleware.TestUserMiddleware)
	router.Mount("/users", NewHandler(svc).Routes())

	do := func(method, path string, as domain.Actor, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			_ = json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("X-Test-User-ID", strconv.FormatInt(as.ID, 10))
		req.Header.Set("X-Test-User-Role", string(as.Role))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/users/me/availability", tutor, CreateSlotRequest{DayOfWeek: 0, StartTime: "14:00", EndTime: "18:00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Data domain.AvailableSlot `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	slot := fmt.Sprintf("/users/me/availability/%d", created.Data.ID)
	check := fmt.Sprintf("/users/%d/availability/check", tutor.ID)

	tests := []struct {
		name   string
		method string
		path   string
		as     domain.Actor
		body   any
		want   int
	}{
		{"student adds a slot", http.MethodPost, "/users/me/availability", student, CreateSlotRequest{DayOfWeek: 0, StartTime: "14:00", EndTime: "18:00"}, http.StatusForbidden},
		{"reversed window", http.MethodPost, "/users/me/availability", tutor, CreateSlotRequest{DayOfWeek: 0, StartTime: "18:00", EndTime: "14:00"}, http.StatusBadRequest},
		{"list", http.MethodGet, fmt.Sprintf("/users/%d/availability", tutor.ID), student, nil, http.StatusOK},
		{"check", http.MethodGet, check + "?day=0&time=15:30", student, nil, http.StatusOK},
		{"check without day", http.MethodGet, check + "?time=15:30", student, nil, http.StatusBadRequest},
		{"student edits the slot", http.MethodPatch, slot, student, UpdateSlotRequest{}, http.StatusForbidden},
		{"tutor edits the slot", http.MethodPatch, slot, tutor, UpdateSlotRequest{}, http.StatusOK},
		{"bad slot id", http.MethodDelete, "/users/me/availability/x", tutor, nil, http.StatusBadRequest},
		{"tutor deletes the slot", http.MethodDelete, slot, tutor, nil, http.StatusNoContent},
		{"deleted slot", http.MethodDelete, slot, tutor, nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(tt.method, tt.path, tt.as, tt.body); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}
