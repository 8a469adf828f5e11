// Package access decides whether a user may open a course surface. Every
// surface goes through Decide; the capabilities it needs are injected.
package access

import (
	"context"
	"fmt"
)

type Decision string

const (
	Granted         Decision = "granted"
	LoginRequired   Decision = "login_required"
	LicenseRequired Decision = "license_required"
	NotEnrolled     Decision = "not_enrolled"
	CourseNotFound  Decision = "course_not_found"
)

func (d Decision) Allowed() bool {
	return d == Granted
}

type Surface int

const (
	SurfaceCourse Surface = iota
	SurfaceSection
	SurfaceQuiz
)

func (s Surface) String() string {
	switch s {
	case SurfaceSection:
		return "section"
	case SurfaceQuiz:
		return "quiz"
	default:
		return "course"
	}
}

// PremiumChecker knows which courses need a license.
type PremiumChecker interface {
	IsPremium(courseID string) (premium bool, found bool)
}

type LicenseChecker interface {
	HasAccess(ctx context.Context, userID string) (bool, error)
}

type EnrollmentChecker interface {
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
}

type Gate struct {
	Premium     PremiumChecker
	Licenses    LicenseChecker
	Enrollments EnrollmentChecker
}

func NewGate(premium PremiumChecker, licenses LicenseChecker, enrollments EnrollmentChecker) *Gate {
	return &Gate{
		Premium:     premium,
		Licenses:    licenses,
		Enrollments: enrollments,
	}
}

// Decide applies the same premium and license rule to every surface.
// Sections and quizzes additionally require enrollment. An empty userID
// means there is no session.
func (g *Gate) Decide(ctx context.Context, userID, courseID string, surface Surface) (Decision, error) {
	premium, found := g.Premium.IsPremium(courseID)
	if !found {
		return CourseNotFound, nil
	}
	if userID == "" {
		return LoginRequired, nil
	}

	if premium {
		ok, err := g.Licenses.HasAccess(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("failed to check license: %w", err)
		}
		if !ok {
			return LicenseRequired, nil
		}
	}

	if surface != SurfaceCourse {
		enrolled, err := g.Enrollments.IsEnrolled(ctx, userID, courseID)
		if err != nil {
			return "", fmt.Errorf("failed to check enrollment: %w", err)
		}
		if !enrolled {
			return NotEnrolled, nil
		}
	}

	return Granted, nil
}

// CanAccessCourse is true when a session exists and the course is free or
// the user holds a valid license.
func (g *Gate) CanAccessCourse(ctx context.Context, userID, courseID string) (bool, error) {
	decision, err := g.Decide(ctx, userID, courseID, SurfaceCourse)
	if err != nil {
		return false, err
	}
	return decision.Allowed(), nil
}
