// Package courses tracks enrollment, section progress and quiz scores
// against the course catalog.
package courses

import (
	"context"
	"time"

	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/models"
	"courseplatform.app/api/storage"
)

var (
	ErrCourseNotFound  = apperr.New(apperr.NotFound, "COURSE_NOT_FOUND", "Course not found")
	ErrLicenseRequired = apperr.New(apperr.LicenseRequired, "LICENSE_REQUIRED", "A license is required for this course")
	ErrNotEnrolled     = apperr.New(apperr.Forbidden, "NOT_ENROLLED", "Enroll in the course first")
	ErrInvalidSection  = apperr.New(apperr.InvalidInput, "INVALID_SECTION", "Section does not exist in this course")
	ErrUnknownQuiz     = apperr.New(apperr.NotFound, "QUIZ_NOT_FOUND", "Quiz not found")
	ErrInvalidScore    = apperr.New(apperr.InvalidInput, "INVALID_SCORE", "Correct answers must be between 0 and the question count")
)

type LicenseChecker interface {
	HasAccess(ctx context.Context, userID string) (bool, error)
}

type QuizResult struct {
	Attempt  models.QuizScore  `json:"attempt"`
	Best     *models.QuizScore `json:"best"`
	Improved bool              `json:"improved"`
}

type Service struct {
	Catalog  *Catalog
	Storage  storage.Storage
	Licenses LicenseChecker
	Now      func() time.Time
}

func NewService(catalog *Catalog, store storage.Storage, licenses LicenseChecker) *Service {
	return &Service{
		Catalog:  catalog,
		Storage:  store,
		Licenses: licenses,
		Now:      time.Now,
	}
}

func (s *Service) course(courseID string) (*models.Course, error) {
	course, ok := s.Catalog.Get(courseID)
	if !ok {
		return nil, ErrCourseNotFound
	}
	return course, nil
}

// Enroll is idempotent. Premium courses check the license at enrollment time.
func (s *Service) Enroll(ctx context.Context, userID, courseID string) (*models.Enrollment, bool, error) {
	course, err := s.course(courseID)
	if err != nil {
		return nil, false, err
	}

	if course.Premium {
		ok, err := s.Licenses.HasAccess(ctx, userID)
		if err != nil {
			return nil, false, apperr.Upstream(err)
		}
		if !ok {
			return nil, false, ErrLicenseRequired
		}
	}

	enrollment := &models.Enrollment{
		UserID:     userID,
		CourseID:   courseID,
		EnrolledAt: s.Now().UTC(),
	}
	created, err := s.Storage.Enroll(ctx, enrollment)
	if err != nil {
		return nil, false, apperr.Upstream(err)
	}
	if created {
		logger.Info("User enrolled", map[string]interface{}{
			"user_id":   userID,
			"course_id": courseID,
		})
	}
	return enrollment, created, nil
}

func (s *Service) ListEnrollments(ctx context.Context, userID string) ([]*models.Enrollment, error) {
	enrollments, err := s.Storage.ListEnrollments(ctx, userID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return enrollments, nil
}

func (s *Service) requireEnrollment(ctx context.Context, userID, courseID string) error {
	enrolled, err := s.Storage.IsEnrolled(ctx, userID, courseID)
	if err != nil {
		return apperr.Upstream(err)
	}
	if !enrolled {
		return ErrNotEnrolled
	}
	return nil
}

// SetSectionComplete marks a section (1-based) complete or incomplete and
// bumps the last-accessed time.
func (s *Service) SetSectionComplete(ctx context.Context, userID, courseID string, section int, done bool) (*models.Progress, error) {
	course, err := s.course(courseID)
	if err != nil {
		return nil, err
	}
	if section < 1 || section > course.Sections {
		return nil, ErrInvalidSection
	}
	if err := s.requireEnrollment(ctx, userID, courseID); err != nil {
		return nil, err
	}

	if err := s.Storage.SetSectionComplete(ctx, userID, courseID, section, done, s.Now().UTC()); err != nil {
		return nil, apperr.Upstream(err)
	}
	return s.Progress(ctx, userID, courseID)
}

func (s *Service) Progress(ctx context.Context, userID, courseID string) (*models.Progress, error) {
	if _, err := s.course(courseID); err != nil {
		return nil, err
	}
	progress, err := s.Storage.GetProgress(ctx, userID, courseID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return progress, nil
}

// SubmitQuiz records an attempt. The stored score only changes when the new
// attempt is strictly better.
func (s *Service) SubmitQuiz(ctx context.Context, userID, courseID, quizType string, correct, total int) (*QuizResult, error) {
	course, err := s.course(courseID)
	if err != nil {
		return nil, err
	}
	if !course.HasQuiz(quizType) {
		return nil, ErrUnknownQuiz
	}
	if total <= 0 || correct < 0 || correct > total {
		return nil, ErrInvalidScore
	}
	if err := s.requireEnrollment(ctx, userID, courseID); err != nil {
		return nil, err
	}

	attempt := models.QuizScore{
		UserID:   userID,
		CourseID: courseID,
		QuizType: quizType,
		Score:    models.ScorePercent(correct, total),
		Correct:  correct,
		Total:    total,
		TakenAt:  s.Now().UTC(),
	}
	improved, err := s.Storage.SaveQuizScore(ctx, &attempt)
	if err != nil {
		return nil, apperr.Upstream(err)
	}

	result := &QuizResult{Attempt: attempt, Improved: improved}
	scores, err := s.QuizScores(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	for _, score := range scores {
		if score.QuizType == quizType {
			result.Best = score
		}
	}
	return result, nil
}

func (s *Service) QuizScores(ctx context.Context, userID, courseID string) ([]*models.QuizScore, error) {
	if _, err := s.course(courseID); err != nil {
		return nil, err
	}
	scores, err := s.Storage.ListQuizScores(ctx, userID, courseID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return scores, nil
}
