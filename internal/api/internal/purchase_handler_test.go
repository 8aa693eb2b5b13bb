package internalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"community-hub/internal/api/middleware"
	"community-hub/internal/model"
	"community-hub/internal/service"
)

type fakeRecorder struct {
	users   map[uuid.UUID]*model.User
	courses map[uuid.UUID]bool
	refs    []string
}

func (f *fakeRecorder) RecordPurchase(_ context.Context, userID, courseID uuid.UUID, externalRef string) (*model.User, error) {
	user, ok := f.users[userID]
	if !ok || !f.courses[courseID] {
		return nil, fmt.Errorf("record purchase: %w", service.ErrNotFound)
	}
	f.refs = append(f.refs, externalRef)
	if !user.HasCourse(courseID) {
		user.CourseIDs = append(user.CourseIDs, courseID)
	}
	user.Role = model.RoleAfterPurchase(user.Role)
	return user, nil
}

func newPurchaseRouter(recorder PurchaseRecorder) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterPurchaseRoutes(router, NewPurchaseHandler(recorder, nil), middleware.InternalTokenAuth("hook-token", false))
	return router
}

func postPurchase(t *testing.T, router *gin.Engine, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/internal/purchases", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.4:4000"
	if token != "" {
		req.Header.Set("X-Internal-Token", token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestRecordPurchase_PromotesBuyer(t *testing.T) {
	t.Parallel()

	buyer := &model.User{ID: uuid.New(), Username: "ana", Role: model.UserRoleFree, Level: 1}
	courseID := uuid.New()
	recorder := &fakeRecorder{
		users:   map[uuid.UUID]*model.User{buyer.ID: buyer},
		courses: map[uuid.UUID]bool{courseID: true},
	}
	router := newPurchaseRouter(recorder)

	resp := postPurchase(t, router, "hook-token", map[string]any{
		"user_id":      buyer.ID.String(),
		"course_id":    courseID.String(),
		"external_ref": "<b>order-7</b>",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Data purchaseResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Role != model.UserRolePremium {
		t.Fatalf("expected premium role, got %q", body.Data.Role)
	}
	if len(body.Data.CourseIDs) != 1 || body.Data.CourseIDs[0] != courseID {
		t.Fatalf("unexpected course ids %v", body.Data.CourseIDs)
	}
	if recorder.refs[0] != "&lt;b&gt;order-7&lt;/b&gt;" {
		t.Fatalf("external ref should be escaped, got %q", recorder.refs[0])
	}
}

func TestRecordPurchase_Rejections(t *testing.T) {
	t.Parallel()

	router := newPurchaseRouter(&fakeRecorder{
		users:   map[uuid.UUID]*model.User{},
		courses: map[uuid.UUID]bool{},
	})
	valid := map[string]any{"user_id": uuid.NewString(), "course_id": uuid.NewString()}

	if got := postPurchase(t, router, "", valid).Code; got != http.StatusUnauthorized {
		t.Fatalf("expected 401 without internal token, got %d", got)
	}
	if got := postPurchase(t, router, "hook-token", map[string]any{"user_id": "x", "course_id": "y"}).Code; got != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed ids, got %d", got)
	}
	if got := postPurchase(t, router, "hook-token", valid).Code; got != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", got)
	}
}
