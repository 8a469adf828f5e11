package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"courseplatform.app/api/models"
)

type progressKey struct {
	userID   string
	courseID string
}

type quizKey struct {
	userID   string
	courseID string
	quizType string
}

// MemoryStorage keeps everything in maps behind one mutex. It backs the
// tests and local runs without a database file.
type MemoryStorage struct {
	mu sync.Mutex

	Users       map[string]models.User
	Licenses    map[string]models.License
	Members     map[string]models.LicenseMember // keyed by member user id
	Enrollments map[progressKey]models.Enrollment
	Sections    map[progressKey]map[int]bool
	LastAccess  map[progressKey]time.Time
	Scores      map[quizKey]models.QuizScore
	Events      map[string]models.WebhookEvent
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Users:       make(map[string]models.User),
		Licenses:    make(map[string]models.License),
		Members:     make(map[string]models.LicenseMember),
		Enrollments: make(map[progressKey]models.Enrollment),
		Sections:    make(map[progressKey]map[int]bool),
		LastAccess:  make(map[progressKey]time.Time),
		Scores:      make(map[quizKey]models.QuizScore),
		Events:      make(map[string]models.WebhookEvent),
	}
}

func (m *MemoryStorage) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.Users {
		if u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	m.Users[user.ID] = *user
	return nil
}

func (m *MemoryStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, exists := m.Users[id]
	if !exists {
		return nil, nil
	}
	return &user, nil
}

func (m *MemoryStorage) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.Users {
		if user.Email == email {
			return &user, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindUserByStripeCustomer(ctx context.Context, customerID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.Users {
		if customerID != "" && user.StripeCustomerID == customerID {
			return &user, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) UpdateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.Users[user.ID]; !exists {
		return ErrNotFound
	}
	m.Users[user.ID] = *user
	return nil
}

func (m *MemoryStorage) CreateLicense(ctx context.Context, license *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.Users[license.OwnerID]; !exists {
		return ErrNotFound
	}
	for _, l := range m.Licenses {
		if l.Key == license.Key {
			return ErrDuplicateKey
		}
		if license.StripeSubscriptionID != "" && l.StripeSubscriptionID == license.StripeSubscriptionID {
			return ErrDuplicateSubscription
		}
	}
	m.Licenses[license.ID] = *license
	return nil
}

func (m *MemoryStorage) GetLicense(ctx context.Context, id string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	license, exists := m.Licenses[id]
	if !exists {
		return nil, nil
	}
	return &license, nil
}

func (m *MemoryStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, license := range m.Licenses {
		if license.Key == key {
			return &license, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindLicenseBySubscription(ctx context.Context, subscriptionID string) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, license := range m.Licenses {
		if subscriptionID != "" && license.StripeSubscriptionID == subscriptionID {
			return &license, nil
		}
	}
	return nil, nil
}

func (m *MemoryStorage) FindLicensesByOwner(ctx context.Context, ownerID string) ([]*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var licenses []*models.License
	for _, license := range m.Licenses {
		if license.OwnerID == ownerID {
			licenseCopy := license
			licenses = append(licenses, &licenseCopy)
		}
	}
	sort.Slice(licenses, func(i, j int) bool {
		return licenses[i].PurchasedAt.After(licenses[j].PurchasedAt)
	})
	return licenses, nil
}

func (m *MemoryStorage) UpdateLicense(ctx context.Context, license *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.Licenses[license.ID]; !exists {
		return ErrNotFound
	}
	m.Licenses[license.ID] = *license
	return nil
}

func (m *MemoryStorage) AddLicenseMember(ctx context.Context, member *models.LicenseMember, maxUsers *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.Licenses[member.LicenseID]; !exists {
		return ErrNotFound
	}
	if _, exists := m.Members[member.UserID]; exists {
		return ErrAlreadyMember
	}
	if maxUsers != nil {
		count := 0
		for _, existing := range m.Members {
			if existing.LicenseID == member.LicenseID {
				count++
			}
		}
		if count+1 >= *maxUsers {
			return ErrSeatsFull
		}
	}
	m.Members[member.UserID] = *member
	return nil
}

func (m *MemoryStorage) RemoveLicenseMember(ctx context.Context, licenseID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, exists := m.Members[userID]
	if !exists || member.LicenseID != licenseID {
		return ErrNotFound
	}
	delete(m.Members, userID)
	return nil
}

func (m *MemoryStorage) FindMembershipByUser(ctx context.Context, userID string) (*models.LicenseMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	member, exists := m.Members[userID]
	if !exists {
		return nil, nil
	}
	return &member, nil
}

func (m *MemoryStorage) ListLicenseMembers(ctx context.Context, licenseID string) ([]*models.LicenseMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var members []*models.LicenseMember
	for _, member := range m.Members {
		if member.LicenseID == licenseID {
			memberCopy := member
			members = append(members, &memberCopy)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].AddedAt.Before(members[j].AddedAt)
	})
	return members, nil
}

func (m *MemoryStorage) Enroll(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := progressKey{enrollment.UserID, enrollment.CourseID}
	if _, exists := m.Enrollments[key]; exists {
		return false, nil
	}
	m.Enrollments[key] = *enrollment
	return true, nil
}

func (m *MemoryStorage) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.Enrollments[progressKey{userID, courseID}]
	return exists, nil
}

func (m *MemoryStorage) ListEnrollments(ctx context.Context, userID string) ([]*models.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var enrollments []*models.Enrollment
	for key, enrollment := range m.Enrollments {
		if key.userID == userID {
			enrollmentCopy := enrollment
			enrollments = append(enrollments, &enrollmentCopy)
		}
	}
	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].CourseID < enrollments[j].CourseID
	})
	return enrollments, nil
}

func (m *MemoryStorage) SetSectionComplete(ctx context.Context, userID, courseID string, section int, done bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := progressKey{userID, courseID}
	sections := m.Sections[key]
	if sections == nil {
		sections = make(map[int]bool)
		m.Sections[key] = sections
	}
	if done {
		sections[section] = true
	} else {
		delete(sections, section)
	}
	m.LastAccess[key] = at
	return nil
}

func (m *MemoryStorage) GetProgress(ctx context.Context, userID, courseID string) (*models.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := progressKey{userID, courseID}
	progress := &models.Progress{
		UserID:            userID,
		CourseID:          courseID,
		CompletedSections: []int{},
	}
	for section := range m.Sections[key] {
		progress.CompletedSections = append(progress.CompletedSections, section)
	}
	sort.Ints(progress.CompletedSections)
	if at, ok := m.LastAccess[key]; ok {
		progress.LastAccessedAt = &at
	}
	return progress, nil
}

func (m *MemoryStorage) SaveQuizScore(ctx context.Context, score *models.QuizScore) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := quizKey{score.UserID, score.CourseID, score.QuizType}
	if existing, ok := m.Scores[key]; ok && score.Score <= existing.Score {
		return false, nil
	}
	m.Scores[key] = *score
	return true, nil
}

func (m *MemoryStorage) ListQuizScores(ctx context.Context, userID, courseID string) ([]*models.QuizScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var scores []*models.QuizScore
	for key, score := range m.Scores {
		if key.userID == userID && key.courseID == courseID {
			scoreCopy := score
			scores = append(scores, &scoreCopy)
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		return scores[i].QuizType < scores[j].QuizType
	})
	return scores, nil
}

func (m *MemoryStorage) GetWebhookEvent(ctx context.Context, id string) (*models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, exists := m.Events[id]
	if !exists {
		return nil, nil
	}
	return &event, nil
}

func (m *MemoryStorage) SaveWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Events[event.ID] = *event
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
