package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"community-hub/internal/access"
	"community-hub/internal/model"
	jwtutil "community-hub/pkg/jwt"
)

func TestRecordPurchase_PromotesAndGrantsCourseAccess(t *testing.T) {
	t.Parallel()

	user := newUser(model.UserRoleFree)
	course := &model.Course{ID: uuid.New(), Slug: "course-5"}
	users := newFakeUserRepo(user)
	svc := NewUserService(users, newFakeCourseRepo(users, course), nil, nil)
	channel := newChannel("course-5-room", model.CoursePolicy(course.ID))

	before, err := svc.GetByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if access.CanView(before, channel) {
		t.Fatal("course channel must be hidden before purchase")
	}

	after, err := svc.RecordPurchase(context.Background(), user.ID, course.ID, "pi_123")
	if err != nil {
		t.Fatalf("RecordPurchase: %v", err)
	}
	if after.Role != model.UserRolePremium {
		t.Fatalf("expected PREMIUM, got %s", after.Role)
	}
	if !access.CanView(after, channel) || !access.CanPost(after, channel) {
		t.Fatal("course channel must open after purchase")
	}
}

func TestRecordPurchase_AdminStaysAdmin(t *testing.T) {
	t.Parallel()

	admin := newUser(model.UserRoleAdmin)
	course := &model.Course{ID: uuid.New(), Slug: "course-9"}
	users := newFakeUserRepo(admin)
	svc := NewUserService(users, newFakeCourseRepo(users, course), nil, nil)

	after, err := svc.RecordPurchase(context.Background(), admin.ID, course.ID, "")
	if err != nil {
		t.Fatalf("RecordPurchase: %v", err)
	}
	if after.Role != model.UserRoleAdmin {
		t.Fatalf("admin must not be downgraded, got %s", after.Role)
	}
}

func TestRecordPurchase_UnknownCourseOrUser(t *testing.T) {
	t.Parallel()

	user := newUser(model.UserRoleFree)
	users := newFakeUserRepo(user)
	svc := NewUserService(users, newFakeCourseRepo(users), nil, nil)

	if _, err := svc.RecordPurchase(context.Background(), user.ID, uuid.New(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for course, got %v", err)
	}
	if _, err := svc.RecordPurchase(context.Background(), uuid.New(), uuid.New(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for user, got %v", err)
	}
}

func TestUserService_MuteLastSeenAndCounts(t *testing.T) {
	t.Parallel()

	alice := newUser(model.UserRoleFree)
	bob := newUser(model.UserRoleFree)
	users := newFakeUserRepo(alice, bob)
	svc := NewUserService(users, nil, nil, nil)
	ctx := context.Background()

	if err := svc.SetMuted(ctx, alice.ID, true); err != nil {
		t.Fatalf("SetMuted: %v", err)
	}
	if err := svc.TouchLastSeen(ctx, bob.ID); err != nil {
		t.Fatalf("TouchLastSeen: %v", err)
	}
	if err := svc.SetMuted(ctx, uuid.New(), true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	gotAlice, _ := svc.GetByID(ctx, alice.ID)
	gotBob, _ := svc.GetByID(ctx, bob.ID)
	if !gotAlice.Muted || gotBob.LastSeenAt == nil {
		t.Fatalf("unexpected state alice=%+v bob=%+v", gotAlice, gotBob)
	}

	total, err := svc.CountAll(ctx)
	if err != nil || total != 2 {
		t.Fatalf("CountAll: %d %v", total, err)
	}
	if OfflineCount(total, 1) != 1 || OfflineCount(total, 5) != 0 {
		t.Fatal("unexpected offline count")
	}
}

func TestAuthService_Verify(t *testing.T) {
	t.Parallel()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	svc := NewAuthService(&key.PublicKey)
	userID := uuid.New()

	token, err := jwtutil.GenerateAccessToken(jwtutil.NewClaims(userID.String(), "admin", "root", time.Minute), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	identity, err := svc.Verify("Bearer " + token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.UserID != userID || identity.Role != model.UserRoleAdmin {
		t.Fatalf("unexpected identity %+v", identity)
	}

	badID, err := jwtutil.GenerateAccessToken(jwtutil.NewClaims("not-a-uuid", "FREE", "", time.Minute), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	for name, raw := range map[string]string{"empty": "", "garbage": "abc", "bad id": badID} {
		if _, err := svc.Verify(raw); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("%s: expected ErrAuthentication, got %v", name, err)
		}
	}

	var unconfigured *AuthService
	if _, err := unconfigured.Verify(token); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication from nil service, got %v", err)
	}
}

func TestUserService_SetRole(t *testing.T) {
	t.Parallel()

	alice := newUser(model.UserRoleFree)
	users := newFakeUserRepo(alice)
	svc := NewUserService(users, nil, nil, nil)
	ctx := context.Background()

	if err := svc.SetRole(ctx, alice.ID, model.UserRolePremium); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	got, _ := svc.GetByID(ctx, alice.ID)
	if got.Role != model.UserRolePremium {
		t.Fatalf("expected PREMIUM, got %s", got.Role)
	}

	cases := []struct {
		name string
		id   uuid.UUID
		role model.UserRole
		want error
	}{
		{name: "unknown role", id: alice.ID, role: model.UserRole("OWNER"), want: ErrInvalidInput},
		{name: "empty role", id: alice.ID, role: "", want: ErrInvalidInput},
		{name: "empty id", id: uuid.Nil, role: model.UserRoleAdmin, want: ErrInvalidInput},
		{name: "missing user", id: uuid.New(), role: model.UserRoleAdmin, want: ErrNotFound},
	}
	for _, tc := range cases {
		if err := svc.SetRole(ctx, tc.id, tc.role); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	got, _ = svc.GetByID(ctx, alice.ID)
	if got.Role != model.UserRolePremium {
		t.Fatalf("rejected changes must not touch the role, got %s", got.Role)
	}
}
