package canvas

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/database"
	"github.com/exemi-au/exemi/internal/database/dbtest"
)

func insertUser(t *testing.T, db *database.DB, name string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRowContext(context.Background(),
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, 'x', '') RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestUniversities(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	u := NewUniversities(db, "")

	if err := u.Create(ctx, University{Name: "Swinburne", BaseURL: "https://swinburne.instructure.com"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := u.Create(ctx, University{Name: "Swinburne", BaseURL: "x"}); apperr.KindOf(err) != apperr.KindConflict {
		t.Errorf("duplicate Create err = %v, want Conflict", err)
	}

	list, err := u.List(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}

	cred, err := u.Credential(ctx, "Swinburne", "tok")
	if err != nil || cred.BaseURL != "https://swinburne.instructure.com" {
		t.Errorf("Credential = %+v, %v", cred, err)
	}
	if _, err := u.BaseURL(ctx, "Unknown"); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Errorf("unknown provider err = %v, want Unauthorized", err)
	}

	withDefault := NewUniversities(db, "https://canvas.example")
	if base, err := withDefault.BaseURL(ctx, "Unknown"); err != nil || base != "https://canvas.example" {
		t.Errorf("default BaseURL = %q, %v", base, err)
	}
}

func TestMirror_StoreIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	m := NewMirror(db, dbtest.Logger())
	userID := insertUser(t, db, "alice")

	desc := "<p>Essay</p>"
	points := 40.0
	byUnit := []UnitGroups{{
		Unit: Unit{ID: 101, Name: "COS10009", EnrollmentTermID: 7, Term: &Term{ID: 7, Name: "2024 Semester 2"}},
		Groups: []AssignmentGroup{{ID: 1010, Name: "Assessments", GroupWeight: 100, Assignments: []Assignment{
			{ID: 10101, Name: "Essay", Description: &desc, PointsPossible: &points, AssignmentGroupID: 1010},
		}}},
	}}

	for i := 0; i < 2; i++ {
		res, err := m.Store(ctx, userID, "Swinburne", byUnit)
		if err != nil {
			t.Fatalf("Store #%d: %v", i+1, err)
		}
		if res != (SyncResult{Terms: 1, Units: 1, AssignmentGroups: 1, Assignments: 1}) {
			t.Errorf("Store #%d result = %+v", i+1, res)
		}
	}

	var n int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM canvas_assignments`).Scan(&n)
	if n != 1 {
		t.Errorf("canvas_assignments rows = %d, want 1", n)
	}

	units, err := m.Units(ctx, userID)
	if err != nil {
		t.Fatalf("Units: %v", err)
	}
	if len(units) != 1 || units[0].CanvasID != 101 || units[0].TermCanvasID != 7 {
		t.Errorf("units = %+v", units)
	}
}

func TestSync(t *testing.T) {
	db := dbtest.Open(t)
	s, cred, _ := testService(t, nil)
	userID := insertUser(t, db, "alice")

	res, err := s.Sync(context.Background(), cred, NewMirror(db, dbtest.Logger()), userID)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Units != 2 || res.Assignments != 2 {
		t.Errorf("Sync result = %+v, want 2 units and 2 assignments", res)
	}
}

func TestMirror_ReadsAreScopedToUser(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	m := NewMirror(db, dbtest.Logger())
	alice := insertUser(t, db, "alice")
	bob := insertUser(t, db, "bob")

	due := time.Date(2024, 9, 20, 13, 59, 0, 0, time.UTC)
	points := 30.0
	desc := "Write 1500 words"
	term := &Term{ID: 7, Name: "2024 Semester 2"}
	aliceUnits := []UnitGroups{
		{
			Unit: Unit{ID: 101, Name: "COS10009", EnrollmentTermID: 7, Term: term},
			Groups: []AssignmentGroup{{ID: 1010, Name: "Assessments", Assignments: []Assignment{
				{ID: 10102, Name: "Portfolio", AssignmentGroupID: 1010},
				{ID: 10101, Name: "Essay", Description: &desc, DueAt: &due, PointsPossible: &points, AssignmentGroupID: 1010},
			}}},
		},
		{
			Unit: Unit{ID: 102, Name: "COS20007", EnrollmentTermID: 7, Term: term},
			Groups: []AssignmentGroup{{ID: 1020, Name: "Labs", Assignments: []Assignment{
				{ID: 10201, Name: "Lab 1", AssignmentGroupID: 1020},
			}}},
		},
	}
	bobUnits := []UnitGroups{{
		Unit: Unit{ID: 201, Name: "MTH10001", EnrollmentTermID: 8, Term: &Term{ID: 8, Name: "2025 Semester 1"}},
		Groups: []AssignmentGroup{{ID: 2010, Name: "Tests", Assignments: []Assignment{
			{ID: 20101, Name: "Test 1", AssignmentGroupID: 2010},
		}}},
	}}
	if _, err := m.Store(ctx, alice, "Swinburne", aliceUnits); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Store(ctx, bob, "Swinburne", bobUnits); err != nil {
		t.Fatal(err)
	}

	terms, err := m.Terms(ctx, alice)
	if err != nil {
		t.Fatalf("Terms: %v", err)
	}
	if len(terms) != 1 || terms[0].CanvasID != 7 || terms[0].StartAt == nil {
		t.Errorf("alice terms = %+v, want term 7 once with rectified dates", terms)
	}

	got, err := m.Term(ctx, alice, "2024 Semester 2")
	if err != nil || got.CanvasID != 7 {
		t.Errorf("Term = %+v, %v", got, err)
	}
	if _, err := m.Term(ctx, alice, "2025 Semester 1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Term of another user's unit err = %v, want not found", err)
	}

	all, err := m.Assignments(ctx, alice, 0)
	if err != nil {
		t.Fatalf("Assignments: %v", err)
	}
	var names []string
	for _, a := range all {
		names = append(names, a.Name)
	}
	if strings.Join(names, ",") != "Essay,Portfolio,Lab 1" {
		t.Errorf("assignments = %v, want dated first then by canvas id", names)
	}
	essay := all[0]
	if essay.DueAt == nil || !essay.DueAt.Equal(due) || essay.PointsPossible == nil || *essay.PointsPossible != 30 ||
		essay.Description == nil || *essay.Description != desc || essay.UnitCanvasID != 101 || essay.GroupCanvasID != 1010 {
		t.Errorf("essay = %+v", essay)
	}

	one, err := m.Assignments(ctx, alice, 102)
	if err != nil || len(one) != 1 || one[0].Name != "Lab 1" {
		t.Errorf("unit 102 assignments = %+v, %v", one, err)
	}
	if none, err := m.Assignments(ctx, alice, 201); err != nil || len(none) != 0 {
		t.Errorf("another user's unit = %+v, %v", none, err)
	}
}
