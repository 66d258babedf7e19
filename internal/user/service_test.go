package user

import (
	"context"
	"errors"
	"testing"

	"github.com/zbnerd/TutorFlow/internal/domain"
	"github.com/zbnerd/TutorFlow/internal/money"
	"github.com/zbnerd/TutorFlow/internal/store/memory"
	"github.com/zbnerd/TutorFlow/internal/testutil"
	"github.com/zbnerd/TutorFlow/pkg/apperr"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	return NewService(st, money.KRW, testutil.Logger()), st
}

func TestCreate(t *testing.T) {
	svc, _ := newService(t)
	anon := domain.Actor{}
	admin := domain.Actor{ID: 1, Role: domain.RoleAdmin}
	bad := "not-an-email"

	tests := []struct {
		name    string
		as      domain.Actor
		req     CreateUserRequest
		want    error
		wantRol domain.Role
	}{
		{"defaults to student", anon, CreateUserRequest{Name: " Jisoo "}, nil, domain.RoleStudent},
		{"tutor", anon, CreateUserRequest{Name: "Minho", Role: domain.RoleTutor}, nil, domain.RoleTutor},
		{"admin by admin", admin, CreateUserRequest{Name: "Ops", Role: domain.RoleAdmin}, nil, domain.RoleAdmin},
		{"admin by anyone else", anon, CreateUserRequest{Name: "Eve", Role: domain.RoleAdmin}, apperr.ErrForbidden, ""},
		{"empty name", anon, CreateUserRequest{Name: "  "}, apperr.ErrValidation, ""},
		{"bad email", anon, CreateUserRequest{Name: "Kim", Email: &bad}, apperr.ErrValidation, ""},
		{"unknown role", anon, CreateUserRequest{Name: "Kim", Role: "GUEST"}, apperr.ErrValidation, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := svc.Create(context.Background(), tt.as, &tt.req)
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("Expected %v, got %v", tt.want, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if u.ID == 0 || u.Role != tt.wantRol {
				t.Errorf("Expected a %s with an id, got %+v", tt.wantRol, u)
			}
		})
	}
}

func TestUpdateTutorSettings(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	tutor := domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleTutor), Role: domain.RoleTutor}
	student := domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleStudent), Role: domain.RoleStudent}
	admin := domain.Actor{ID: testutil.SeedUser(t, st, domain.RoleAdmin), Role: domain.RoleAdmin}

	if _, err := svc.UpdateTutorSettings(ctx, student, &TutorSettingsRequest{SessionPrice: 1000}); !errors.Is(err, ErrNotTutor) {
		t.Errorf("Expected ErrNotTutor, got %v", err)
	}
	if _, err := svc.UpdateTutorSettings(ctx, tutor, &TutorSettingsRequest{SessionPrice: 1000, NoShowPolicy: "TWO_FREE"}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected ErrValidation for an unknown policy, got %v", err)
	}

	p, err := svc.UpdateTutorSettings(ctx, tutor, &TutorSettingsRequest{SessionPrice: 45000, CancellationHours: 12, PayoutAccount: " recp_1 "})
	if err != nil {
		t.Fatalf("UpdateTutorSettings: %v", err)
	}
	if p.NoShowPolicy != domain.NoShowFullDeduction || p.SessionPrice != money.New(45000, money.KRW) || p.PayoutAccount != "recp_1" || p.IsApproved {
		t.Errorf("Unexpected profile %+v", p)
	}

	if _, err := svc.SetApproval(ctx, tutor, tutor.ID, true); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("Expected ErrForbidden, got %v", err)
	}
	if _, err := svc.SetApproval(ctx, admin, tutor.ID, true); err != nil {
		t.Fatalf("SetApproval: %v", err)
	}

	p, err = svc.UpdateTutorSettings(ctx, tutor, &TutorSettingsRequest{SessionPrice: 50000, NoShowPolicy: domain.NoShowOneFree, PayoutAccount: "recp_1"})
	if err != nil {
		t.Fatalf("UpdateTutorSettings: %v", err)
	}
	if !p.IsApproved || p.NoShowPolicy != domain.NoShowOneFree {
		t.Errorf("Expected approval to survive a settings change, got %+v", p)
	}

	public, err := svc.TutorProfile(ctx, student, tutor.ID)
	if err != nil {
		t.Fatalf("TutorProfile: %v", err)
	}
	if public.PayoutAccount != "" {
		t.Error("Expected the payout account to be hidden from students")
	}
	own, _ := svc.TutorProfile(ctx, tutor, tutor.ID)
	if own.PayoutAccount != "recp_1" {
		t.Errorf("Expected the tutor to see their payout account, got %q", own.PayoutAccount)
	}
	if _, err := svc.TutorProfile(ctx, student, student.ID); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Expected ErrProfileNotFound, got %v", err)
	}
}
