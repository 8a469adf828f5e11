package models

import "time"

type Course struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Premium     bool     `json:"premium" yaml:"premium"`
	Sections    int      `json:"sections" yaml:"sections"`
	Quizzes     []string `json:"quizzes,omitempty" yaml:"quizzes"`
}

func (c *Course) HasQuiz(quizType string) bool {
	for _, q := range c.Quizzes {
		if q == quizType {
			return true
		}
	}
	return false
}

type Enrollment struct {
	UserID     string    `json:"userId"`
	CourseID   string    `json:"courseId"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

type Progress struct {
	UserID            string     `json:"userId"`
	CourseID          string     `json:"courseId"`
	CompletedSections []int      `json:"completedSections"`
	LastAccessedAt    *time.Time `json:"lastAccessedAt,omitempty"`
}

type QuizScore struct {
	UserID   string    `json:"userId"`
	CourseID string    `json:"courseId"`
	QuizType string    `json:"quizType"`
	Score    int       `json:"score"`
	Correct  int       `json:"correct"`
	Total    int       `json:"total"`
	TakenAt  time.Time `json:"takenAt"`
}

// ScorePercent rounds correct/total to a whole percentage.
func ScorePercent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (correct*100 + total/2) / total
}

func (p *Progress) IsComplete(section int) bool {
	for _, s := range p.CompletedSections {
		if s == section {
			return true
		}
	}
	return false
}
