package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/database"
	"github.com/exemi-au/exemi/internal/database/dbtest"
	"github.com/exemi-au/exemi/internal/users"
)

var sydney = mustLoad("Australia/Sydney")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type fixture struct {
	db    *database.DB
	svc   *Service
	alice *users.User
	bob   *users.User
	admin *users.User
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	us := users.NewStore(db)
	mk := func(name string, admin bool) *users.User {
		u := &users.User{Username: name, PasswordHash: "x", Admin: admin}
		if err := us.Create(context.Background(), u); err != nil {
			t.Fatal(err)
		}
		return u
	}
	svc := NewService(NewStore(db), sydney, dbtest.Logger())
	svc.now = func() time.Time { return now }
	return &fixture{db: db, svc: svc, alice: mk("alice", false), bob: mk("bob", false), admin: mk("root", true)}
}

func (f *fixture) create(t *testing.T, u *users.User, name string, due time.Time) *Reminder {
	t.Helper()
	r, err := f.svc.Create(context.Background(), u, CreateRequest{AssignmentName: name, DueAt: due})
	if err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return r
}

func TestCreateAndGet(t *testing.T) {
	now := time.Date(2025, 3, 10, 1, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	due := time.Date(2025, 3, 14, 12, 59, 0, 0, time.UTC)
	r, err := f.svc.Create(ctx, f.alice, CreateRequest{AssignmentName: " Essay ", Description: "draft", DueAt: due})
	if err != nil {
		t.Fatal(err)
	}
	if r.ID == 0 || r.AssignmentName != "Essay" || !r.CreatedAt.Equal(now) {
		t.Errorf("created = %+v", r)
	}

	got, err := f.svc.Get(ctx, f.alice, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.DueAt.Equal(due) || got.Description != "draft" || got.UserID != f.alice.ID {
		t.Errorf("Get = %+v", got)
	}

	if _, err := f.svc.Get(ctx, f.admin, r.ID); err != nil {
		t.Errorf("admin Get: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.bob, r.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("bob Get err = %v, want unauthorized", err)
	}
	if _, err := f.svc.Get(ctx, f.alice, 9999); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing Get err = %v, want not found", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, time.Now())
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"empty name", CreateRequest{AssignmentName: "  ", DueAt: time.Now()}},
		{"no due date", CreateRequest{AssignmentName: "Essay"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), f.alice, tt.req)
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t, time.Now())
	ctx := context.Background()
	r := f.create(t, f.alice, "Essay", time.Now().Add(48*time.Hour))

	desc := "final version"
	if _, err := f.svc.Update(ctx, f.bob, r.ID, UpdateRequest{Description: &desc}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("bob Update err = %v", err)
	}
	updated, err := f.svc.Update(ctx, f.alice, r.ID, UpdateRequest{Description: &desc})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Description != desc || updated.AssignmentName != "Essay" {
		t.Errorf("updated = %+v", updated)
	}

	if err := f.svc.Delete(ctx, f.bob, r.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("bob Delete err = %v", err)
	}
	if err := f.svc.Delete(ctx, f.admin, r.ID); err != nil {
		t.Fatalf("admin Delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, f.alice, r.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
}

func TestList_OrderPagingAndFilter(t *testing.T) {
	// 2025-03-10 22:00 in Sydney.
	now := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	ctx := context.Background()

	in := func(days int, hour int) time.Time {
		return time.Date(2025, 3, 10+days, hour, 0, 0, 0, sydney)
	}
	f.create(t, f.alice, "far", in(20, 9))
	f.create(t, f.alice, "overdue", in(-2, 9))
	f.create(t, f.alice, "tomorrow-early", in(1, 0))
	f.create(t, f.alice, "in-three", in(3, 23))
	f.create(t, f.bob, "not-mine", in(1, 9))

	names := func(rs []*Reminder) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.AssignmentName
		}
		return out
	}
	three := 3
	zero := 0

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"all", ListOptions{}, []string{"overdue", "tomorrow-early", "in-three", "far"}},
		{"paged", ListOptions{Offset: 1, Limit: 2}, []string{"tomorrow-early", "in-three"}},
		{"offset past end", ListOptions{Offset: 10}, []string{}},
		{"within three days", ListOptions{MinDaysRemaining: &three}, []string{"overdue", "tomorrow-early", "in-three"}},
		{"today or earlier", ListOptions{MinDaysRemaining: &zero}, []string{"overdue"}},
		{"filtered then paged", ListOptions{MinDaysRemaining: &three, Offset: 1, Limit: 1}, []string{"tomorrow-early"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.List(ctx, f.alice, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			gotNames := names(got)
			if len(gotNames) != len(tt.want) {
				t.Fatalf("List = %v, want %v", gotNames, tt.want)
			}
			for i := range tt.want {
				if gotNames[i] != tt.want[i] {
					t.Errorf("List = %v, want %v", gotNames, tt.want)
					break
				}
			}
		})
	}
}

func TestDueWithin(t *testing.T) {
	now := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	f.create(t, f.alice, "overdue", now.Add(-72*time.Hour))
	f.create(t, f.alice, "soon", now.Add(24*time.Hour))
	f.create(t, f.alice, "later", now.Add(30*24*time.Hour))

	got, err := f.svc.DueWithin(context.Background(), f.alice, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AssignmentName != "soon" {
		t.Errorf("DueWithin = %+v", got)
	}
}

func TestCascadeOnUserDelete(t *testing.T) {
	f := newFixture(t, time.Now())
	r := f.create(t, f.alice, "Essay", time.Now())
	if err := users.NewStore(f.db).Delete(context.Background(), f.alice.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := NewStore(f.db).Get(context.Background(), r.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("reminder survived user delete: %v", err)
	}
}
