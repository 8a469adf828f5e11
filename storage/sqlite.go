package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"courseplatform.app/api/internal/logger"
	"courseplatform.app/api/models"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens the database and applies pending migrations.
// Transactions begin IMMEDIATE so seat checks serialize with other writers.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	storage := &SQLiteStorage{
		db:   db,
		path: path,
	}

	if err := storage.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return storage, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_txlock=immediate&_foreign_keys=on&_busy_timeout=5000"
}

func (s *SQLiteStorage) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, dirty, _ := m.Version()
	logger.Debug("Database schema ready", map[string]interface{}{
		"path":    s.path,
		"version": version,
		"dirty":   dirty,
	})
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

type scanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, email, pin_hash, secret_answer_hash, first_name, last_name, phone,
	birth_month, birth_year, membership_tier, stripe_customer_id, created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	var user models.User
	var stripeCustomerID sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PINHash,
		&user.SecretAnswerHash,
		&user.FirstName,
		&user.LastName,
		&user.Phone,
		&user.BirthMonth,
		&user.BirthYear,
		&user.MembershipTier,
		&stripeCustomerID,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.StripeCustomerID = stripeCustomerID.String
	return &user, nil
}

func (s *SQLiteStorage) queryUser(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStorage) CreateUser(ctx context.Context, user *models.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PINHash,
		user.SecretAnswerHash,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.BirthMonth,
		user.BirthYear,
		user.MembershipTier,
		nullString(user.StripeCustomerID),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.queryUser(ctx, `id = ?`, id)
}

func (s *SQLiteStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.queryUser(ctx, `email = ?`, email)
}

func (s *SQLiteStorage) FindUserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, nil
	}
	return s.queryUser(ctx, `stripe_customer_id = ?`, customerID)
}

func (s *SQLiteStorage) UpdateUser(ctx context.Context, user *models.User) error {
	query := `UPDATE users SET email = ?, pin_hash = ?, secret_answer_hash = ?, first_name = ?, last_name = ?,
		phone = ?, birth_month = ?, birth_year = ?, membership_tier = ?, stripe_customer_id = ?, updated_at = ?
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		user.Email,
		user.PINHash,
		user.SecretAnswerHash,
		user.FirstName,
		user.LastName,
		user.Phone,
		user.BirthMonth,
		user.BirthYear,
		user.MembershipTier,
		nullString(user.StripeCustomerID),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const licenseColumns = `id, owner_id, license_type, license_key, status, max_users, expires_at,
	stripe_subscription_id, stripe_customer_id, stripe_price_id, purchased_at, activated_at, created_at, updated_at`

func scanLicense(row scanner) (*models.License, error) {
	var (
		license        models.License
		licenseType    string
		status         string
		maxUsers       sql.NullInt64
		expiresAt      sql.NullTime
		subscriptionID sql.NullString
		customerID     sql.NullString
		priceID        sql.NullString
		activatedAt    sql.NullTime
	)
	err := row.Scan(
		&license.ID,
		&license.OwnerID,
		&licenseType,
		&license.Key,
		&status,
		&maxUsers,
		&expiresAt,
		&subscriptionID,
		&customerID,
		&priceID,
		&license.PurchasedAt,
		&activatedAt,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	license.Type = models.LicenseType(licenseType)
	license.Status = models.LicenseStatus(status)
	if maxUsers.Valid {
		n := int(maxUsers.Int64)
		license.MaxUsers = &n
	}
	if expiresAt.Valid {
		license.ExpiresAt = &expiresAt.Time
	}
	if activatedAt.Valid {
		license.ActivatedAt = &activatedAt.Time
	}
	license.StripeSubscriptionID = subscriptionID.String
	license.StripeCustomerID = customerID.String
	license.StripePriceID = priceID.String
	return &license, nil
}

func (s *SQLiteStorage) queryLicense(ctx context.Context, where string, arg any) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE ` + where
	license, err := scanLicense(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query license: %w", err)
	}
	return license, nil
}

func (s *SQLiteStorage) CreateLicense(ctx context.Context, license *models.License) error {
	query := `INSERT INTO licenses (` + licenseColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		license.ID,
		license.OwnerID,
		string(license.Type),
		license.Key,
		string(license.Status),
		nullInt(license.MaxUsers),
		nullTime(license.ExpiresAt),
		nullString(license.StripeSubscriptionID),
		nullString(license.StripeCustomerID),
		nullString(license.StripePriceID),
		license.PurchasedAt,
		nullTime(license.ActivatedAt),
		license.CreatedAt,
		license.UpdatedAt,
	)
	if isUniqueViolation(err) {
		if strings.Contains(err.Error(), "stripe_subscription_id") {
			return ErrDuplicateSubscription
		}
		return ErrDuplicateKey
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetLicense(ctx context.Context, id string) (*models.License, error) {
	return s.queryLicense(ctx, `id = ?`, id)
}

func (s *SQLiteStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	return s.queryLicense(ctx, `license_key = ?`, key)
}

func (s *SQLiteStorage) FindLicenseBySubscription(ctx context.Context, subscriptionID string) (*models.License, error) {
	if subscriptionID == "" {
		return nil, nil
	}
	return s.queryLicense(ctx, `stripe_subscription_id = ?`, subscriptionID)
}

func (s *SQLiteStorage) FindLicensesByOwner(ctx context.Context, ownerID string) ([]*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE owner_id = ? ORDER BY purchased_at DESC`

	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warn("Failed to close rows", map[string]interface{}{"error": err.Error()})
		}
	}()

	var licenses []*models.License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, license)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating licenses: %w", err)
	}
	return licenses, nil
}

func (s *SQLiteStorage) UpdateLicense(ctx context.Context, license *models.License) error {
	query := `UPDATE licenses SET status = ?, max_users = ?, expires_at = ?, stripe_customer_id = ?,
		stripe_price_id = ?, activated_at = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		string(license.Status),
		nullInt(license.MaxUsers),
		nullTime(license.ExpiresAt),
		nullString(license.StripeCustomerID),
		nullString(license.StripePriceID),
		nullTime(license.ActivatedAt),
		license.UpdatedAt,
		license.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update license: %w", err)
	}
	return requireRow(result)
}

func (s *SQLiteStorage) AddLicenseMember(ctx context.Context, member *models.LicenseMember, maxUsers *int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM licenses WHERE id = ?`, member.LicenseID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up license: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if maxUsers != nil {
		var members int
		err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM license_users WHERE license_id = ?`, member.LicenseID).Scan(&members)
		if err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}
		if members+1 >= *maxUsers {
			return ErrSeatsFull
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO license_users (license_id, user_id, added_by, added_at) VALUES (?, ?, ?, ?)`,
		member.LicenseID, member.UserID, member.AddedBy, member.AddedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyMember
	}
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit member: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) RemoveLicenseMember(ctx context.Context, licenseID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM license_users WHERE license_id = ? AND user_id = ?`, licenseID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return requireRow(result)
}

func scanMember(row scanner) (*models.LicenseMember, error) {
	var member models.LicenseMember
	err := row.Scan(&member.LicenseID, &member.UserID, &member.AddedBy, &member.AddedAt)
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *SQLiteStorage) FindMembershipByUser(ctx context.Context, userID string) (*models.LicenseMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT license_id, user_id, added_by, added_at FROM license_users WHERE user_id = ?`, userID)
	member, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query membership: %w", err)
	}
	return member, nil
}

func (s *SQLiteStorage) ListLicenseMembers(ctx context.Context, licenseID string) ([]*models.LicenseMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT license_id, user_id, added_by, added_at FROM license_users WHERE license_id = ? ORDER BY added_at`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*models.LicenseMember
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (s *SQLiteStorage) Enroll(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO enrollments (user_id, course_id, enrolled_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, course_id) DO NOTHING`,
		enrollment.UserID, enrollment.CourseID, enrollment.EnrolledAt)
	if err != nil {
		return false, fmt.Errorf("failed to enroll: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStorage) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrollments WHERE user_id = ? AND course_id = ?`, userID, courseID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query enrollment: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStorage) ListEnrollments(ctx context.Context, userID string) ([]*models.Enrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, course_id, enrolled_at FROM enrollments WHERE user_id = ? ORDER BY course_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []*models.Enrollment
	for rows.Next() {
		var e models.Enrollment
		if err := rows.Scan(&e.UserID, &e.CourseID, &e.EnrolledAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		enrollments = append(enrollments, &e)
	}
	return enrollments, rows.Err()
}

func (s *SQLiteStorage) SetSectionComplete(ctx context.Context, userID, courseID string, section int, done bool, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if done {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO completed_sections (user_id, course_id, section, completed_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, course_id, section) DO NOTHING`,
			userID, courseID, section, at)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM completed_sections WHERE user_id = ? AND course_id = ? AND section = ?`,
			userID, courseID, section)
	}
	if err != nil {
		return fmt.Errorf("failed to update section: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO course_progress (user_id, course_id, last_accessed_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, course_id) DO UPDATE SET last_accessed_at = excluded.last_accessed_at`,
		userID, courseID, at)
	if err != nil {
		return fmt.Errorf("failed to touch progress: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStorage) GetProgress(ctx context.Context, userID, courseID string) (*models.Progress, error) {
	progress := &models.Progress{
		UserID:            userID,
		CourseID:          courseID,
		CompletedSections: []int{},
	}

	var lastAccessed time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_accessed_at FROM course_progress WHERE user_id = ? AND course_id = ?`,
		userID, courseID).Scan(&lastAccessed)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("failed to query progress: %w", err)
	default:
		progress.LastAccessedAt = &lastAccessed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT section FROM completed_sections WHERE user_id = ? AND course_id = ? ORDER BY section`,
		userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var section int
		if err := rows.Scan(&section); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		progress.CompletedSections = append(progress.CompletedSections, section)
	}
	return progress, rows.Err()
}

func (s *SQLiteStorage) SaveQuizScore(ctx context.Context, score *models.QuizScore) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_scores (user_id, course_id, quiz_type, score, correct, total, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, course_id, quiz_type) DO UPDATE SET
		score = excluded.score,
		correct = excluded.correct,
		total = excluded.total,
		taken_at = excluded.taken_at
		WHERE excluded.score > quiz_scores.score`,
		score.UserID, score.CourseID, score.QuizType, score.Score, score.Correct, score.Total, score.TakenAt)
	if err != nil {
		return false, fmt.Errorf("failed to save quiz score: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStorage) ListQuizScores(ctx context.Context, userID, courseID string) ([]*models.QuizScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, course_id, quiz_type, score, correct, total, taken_at
		FROM quiz_scores WHERE user_id = ? AND course_id = ? ORDER BY quiz_type`, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quiz scores: %w", err)
	}
	defer rows.Close()

	var scores []*models.QuizScore
	for rows.Next() {
		var q models.QuizScore
		if err := rows.Scan(&q.UserID, &q.CourseID, &q.QuizType, &q.Score, &q.Correct, &q.Total, &q.TakenAt); err != nil {
			return nil, fmt.Errorf("failed to scan quiz score: %w", err)
		}
		scores = append(scores, &q)
	}
	return scores, rows.Err()
}

func (s *SQLiteStorage) GetWebhookEvent(ctx context.Context, id string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := s.db.QueryRowContext(ctx,
		`SELECT id, event_type, status, attempts, last_error, created_at, updated_at FROM webhook_events WHERE id = ?`, id).
		Scan(&event.ID, &event.Type, &event.Status, &event.Attempts, &event.LastError, &event.CreatedAt, &event.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook event: %w", err)
	}
	return &event, nil
}

func (s *SQLiteStorage) SaveWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, event_type, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		attempts = excluded.attempts,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at`,
		event.ID, event.Type, event.Status, event.Attempts, event.LastError, event.CreatedAt, event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save webhook event: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
