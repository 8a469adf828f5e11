package handlers

import (
	"net/http"
	"strconv"

	"courseplatform.app/api/internal/access"
	"courseplatform.app/api/internal/apperr"
	"courseplatform.app/api/internal/courses"
	"courseplatform.app/api/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type QuizRequest struct {
	Correct int `json:"correct" validate:"gte=0"`
	Total   int `json:"total" validate:"required,gt=0"`
}

type CourseResponse struct {
	Course   *models.Course   `json:"course"`
	Decision access.Decision  `json:"decision"`
	Progress *models.Progress `json:"progress,omitempty"`
	Enrolled bool             `json:"enrolled"`
}

type SectionResponse struct {
	CourseID  string `json:"courseId"`
	Section   int    `json:"section"`
	Completed bool   `json:"completed"`
}

// decisionErrors is what each non-granted decision renders as.
var decisionErrors = map[access.Decision]error{
	access.CourseNotFound:  courses.ErrCourseNotFound,
	access.LoginRequired:   ErrMissingSession,
	access.LicenseRequired: courses.ErrLicenseRequired,
	access.NotEnrolled:     courses.ErrNotEnrolled,
}

// authorize runs the access gate for a surface and renders the refusal.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, courseID string, surface access.Surface) bool {
	decision, err := s.Gate.Decide(r.Context(), sessionUser(r), courseID, surface)
	if err != nil {
		renderError(w, r, err)
		return false
	}
	if decision.Allowed() {
		return true
	}

	resp := errorResponse(r, decisionErrors[decision])
	resp.Decision = string(decision)
	render.Render(w, r, resp)
	return false
}

func (s *Server) ListCourses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"courses": s.Courses.Catalog.Courses()})
}

func (s *Server) GetCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	if !s.authorize(w, r, courseID, access.SurfaceCourse) {
		return
	}

	course, _ := s.Courses.Catalog.Get(courseID)
	uid := sessionUser(r)
	enrolled, err := s.Storage.IsEnrolled(r.Context(), uid, courseID)
	if err != nil {
		renderError(w, r, apperr.Upstream(err))
		return
	}

	resp := CourseResponse{Course: course, Decision: access.Granted, Enrolled: enrolled}
	if enrolled {
		progress, err := s.Courses.Progress(r.Context(), uid, courseID)
		if err != nil {
			renderError(w, r, err)
			return
		}
		resp.Progress = progress
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) EnrollCourse(w http.ResponseWriter, r *http.Request) {
	enrollment, created, err := s.Courses.Enroll(r.Context(), sessionUser(r), chi.URLParam(r, "courseID"))
	if err != nil {
		renderError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, map[string]interface{}{"enrollment": enrollment, "created": created})
}

func (s *Server) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	enrollments, err := s.Courses.ListEnrollments(r.Context(), sessionUser(r))
	if err != nil {
		renderError(w, r, err)
		return
	}
	if enrollments == nil {
		enrollments = []*models.Enrollment{}
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"enrollments": enrollments})
}

func sectionParam(r *http.Request) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, "section"))
	if err != nil {
		return 0, courses.ErrInvalidSection
	}
	return n, nil
}

func (s *Server) GetSection(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	if !s.authorize(w, r, courseID, access.SurfaceSection) {
		return
	}

	section, err := sectionParam(r)
	if err != nil {
		renderError(w, r, err)
		return
	}
	course, _ := s.Courses.Catalog.Get(courseID)
	if section < 1 || section > course.Sections {
		renderError(w, r, courses.ErrInvalidSection)
		return
	}

	progress, err := s.Courses.Progress(r.Context(), sessionUser(r), courseID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, SectionResponse{
		CourseID:  courseID,
		Section:   section,
		Completed: progress.IsComplete(section),
	})
}

func (s *Server) CompleteSection(w http.ResponseWriter, r *http.Request) {
	s.setSection(w, r, true)
}

func (s *Server) UncompleteSection(w http.ResponseWriter, r *http.Request) {
	s.setSection(w, r, false)
}

func (s *Server) setSection(w http.ResponseWriter, r *http.Request, done bool) {
	courseID := chi.URLParam(r, "courseID")
	if !s.authorize(w, r, courseID, access.SurfaceSection) {
		return
	}
	section, err := sectionParam(r)
	if err != nil {
		renderError(w, r, err)
		return
	}

	progress, err := s.Courses.SetSectionComplete(r.Context(), sessionUser(r), courseID, section, done)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, progress)
}

func (s *Server) CourseProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.Courses.Progress(r.Context(), sessionUser(r), chi.URLParam(r, "courseID"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, progress)
}

func (s *Server) SubmitQuiz(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	if !s.authorize(w, r, courseID, access.SurfaceQuiz) {
		return
	}

	var req QuizRequest
	if err := s.decode(w, r, &req); err != nil {
		renderError(w, r, err)
		return
	}

	result, err := s.Courses.SubmitQuiz(r.Context(), sessionUser(r), courseID, chi.URLParam(r, "quizType"), req.Correct, req.Total)
	if err != nil {
		renderError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) QuizScores(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")
	if !s.authorize(w, r, courseID, access.SurfaceQuiz) {
		return
	}

	scores, err := s.Courses.QuizScores(r.Context(), sessionUser(r), courseID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	if scores == nil {
		scores = []*models.QuizScore{}
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{"scores": scores})
}
