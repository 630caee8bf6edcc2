package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent takes exams.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher reviews and grades attempts.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin manages users and exam definitions.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents a login session backed by a cookie.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil for anonymous requests.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// AttemptStatus represents the status of an exam attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusCompleted  AttemptStatus = "completed"
	StatusGraded     AttemptStatus = "graded"
)

// Terminal reports whether the status can no longer be changed by the student.
func (s AttemptStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusGraded
}

// Attempt is one student's run of one exam.
type Attempt struct {
	ID          int64              `json:"id"`
	ExamID      string             `json:"exam_id"`
	StudentID   int64              `json:"student_id"`
	Status      AttemptStatus      `json:"status"`
	Answers     Answers            `json:"answers"`
	TotalScore  float64            `json:"total_score"`
	MaxScore    float64            `json:"max_score"`
	ManualGrade map[string]float64 `json:"manual_grades,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	GradedBy    *int64             `json:"graded_by,omitempty"`
	GradedAt    *time.Time         `json:"graded_at,omitempty"`
}

// AttemptPatch is the write applied to an in-progress attempt at submission.
type AttemptPatch struct {
	Answers     Answers
	TotalScore  float64
	MaxScore    float64
	Status      AttemptStatus
	CompletedAt time.Time
}

// ExamRecord is a stored, not yet normalized, exam definition.
type ExamRecord struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Raw        []byte    `json:"-"`
	SourceHash string    `json:"source_hash"`
	ImportedAt time.Time `json:"imported_at"`
}

// RunnerConfig holds runtime parameters set via CLI flags.
type RunnerConfig struct {
	BasePath         string        // URL prefix for sub-path deployments (e.g. "/ru")
	SecureCookies    bool          // Set Secure flag on cookies (disable for local dev)
	SubmitTimeout    time.Duration // Upper bound for one persist call
	SessionRetention time.Duration // How long finished sessions stay addressable
	CORSOrigins      []string
}
