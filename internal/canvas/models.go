// Package canvas reads terms, units and assignments from a Canvas LMS
// on behalf of a student, and keeps an advisory copy in the database.
package canvas

import "time"

// Credential is what the client needs to act as a student: the Canvas
// host for their university and their unsealed access token.
type Credential struct {
	BaseURL  string
	Token    string
	Provider string
}

// Term is a Canvas enrollment term.
type Term struct {
	ID      int64      `json:"id"`
	Name    string     `json:"name"`
	StartAt *time.Time `json:"start_at"`
	EndAt   *time.Time `json:"end_at"`
}

// Unit is a Canvas course. Students and universities call them units.
type Unit struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	OriginalName     string `json:"original_name,omitempty"`
	EnrollmentTermID int64  `json:"enrollment_term_id"`
	Term             *Term  `json:"term,omitempty"`
}

// Assignment is a Canvas assignment. Description is HTML as returned
// by Canvas.
type Assignment struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Description       *string    `json:"description"`
	DueAt             *time.Time `json:"due_at"`
	PointsPossible    *float64   `json:"points_possible"`
	AssignmentGroupID int64      `json:"assignment_group_id"`
	CourseID          int64      `json:"course_id,omitempty"`
}

// AssignmentGroup is a weighted group of assignments within a unit.
type AssignmentGroup struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	GroupWeight float64      `json:"group_weight"`
	Assignments []Assignment `json:"assignments"`
}

// UnitFilter narrows Units. Both default to true on the HTTP surface.
type UnitFilter struct {
	// ExcludeComplete asks Canvas for active enrollments only.
	ExcludeComplete bool
	// ExcludeOrganisation drops units in the default term, which
	// universities use for non-teaching organisation sites.
	ExcludeOrganisation bool
}

// DefaultTermID is the Canvas "Default Term" that organisation units
// are enrolled in.
const DefaultTermID = 1
