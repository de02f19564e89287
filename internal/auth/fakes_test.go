package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type memUserStore struct {
	mu      sync.Mutex
	byID    map[string]*User
	byEmail map[string]string
	profile map[string]Role
	failErr error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		profile: make(map[string]Role),
	}
}

func (s *memUserStore) Create(_ context.Context, input NewUser) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return User{}, s.failErr
	}
	if _, exists := s.byEmail[input.Email]; exists {
		return User{}, ErrConflict
	}
	now := time.Now().UTC()
	user := User{
		ID:           uuid.NewString(),
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Role:         input.Role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[user.ID] = &user
	s.byEmail[user.Email] = user.ID
	s.profile[user.ID] = user.Role
	return user, nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[email]
	if !ok {
		return User{}, ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *memUserStore) FindByID(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return *user, nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *memUserStore) SetAvatarURL(_ context.Context, id, avatarURL string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byID[id]
	if !ok || !user.IsActive {
		return User{}, ErrNotFound
	}
	user.AvatarURL = &avatarURL
	return *user, nil
}

func (s *memUserStore) EnsureAdmin(_ context.Context, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEmail[email]; ok {
		user := s.byID[id]
		user.PasswordHash = passwordHash
		user.Role = RoleAdmin
		user.IsActive = true
		s.profile[id] = RoleAdmin
		return nil
	}
	user := User{ID: uuid.NewString(), Email: email, PasswordHash: passwordHash, Role: RoleAdmin, IsActive: true}
	s.byID[user.ID] = &user
	s.byEmail[email] = user.ID
	s.profile[user.ID] = RoleAdmin
	return nil
}

func (s *memUserStore) deactivate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id].IsActive = false
}

type memLedger struct {
	mu        sync.Mutex
	records   map[string]*RefreshTokenRecord
	now       func() time.Time
	recordErr error
	chainErr  error
}

func newMemLedger(now func() time.Time) *memLedger {
	return &memLedger{records: make(map[string]*RefreshTokenRecord), now: now}
}

func (l *memLedger) Record(_ context.Context, record RefreshTokenRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recordErr != nil {
		return l.recordErr
	}
	l.records[record.JTI] = &record
	return nil
}

func (l *memLedger) Find(_ context.Context, jti string) (RefreshTokenRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[jti]
	if !ok {
		return RefreshTokenRecord{}, ErrNotFound
	}
	return *record, nil
}

func (l *memLedger) IsValid(ctx context.Context, jti string) (bool, error) {
	record, err := l.Find(ctx, jti)
	if err != nil {
		return false, nil
	}
	return record.ValidAt(l.now()), nil
}

func (l *memLedger) Revoke(_ context.Context, jti string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if record, ok := l.records[jti]; ok && !record.Revoked {
		l.revokeLocked(record)
	}
	return nil
}

func (l *memLedger) RevokeAllForUser(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for _, record := range l.records {
		if record.UserID == userID && !record.Revoked {
			l.revokeLocked(record)
			n++
		}
	}
	return n, nil
}

func (l *memLedger) Rotate(_ context.Context, oldJTI, userID string, next RefreshTokenRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, ok := l.records[oldJTI]
	if !ok || old.UserID != userID {
		return ErrRefreshInvalid
	}
	if old.Revoked {
		if old.ReplacedByJTI != nil {
			return ErrRefreshReused
		}
		return ErrRefreshInvalid
	}
	if !l.now().Before(old.ExpiresAt) {
		return ErrRefreshInvalid
	}
	next.UserID = userID
	l.records[next.JTI] = &next
	l.revokeLocked(old)
	old.ReplacedByJTI = &next.JTI
	return nil
}

func (l *memLedger) RevokeChain(_ context.Context, jti string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chainErr != nil {
		return 0, l.chainErr
	}
	var n int64
	for current, ok := l.records[jti]; ok; {
		if !current.Revoked {
			l.revokeLocked(current)
			n++
		}
		if current.ReplacedByJTI == nil {
			break
		}
		current, ok = l.records[*current.ReplacedByJTI]
	}
	return n, nil
}

func (l *memLedger) revokeLocked(record *RefreshTokenRecord) {
	at := l.now()
	record.Revoked = true
	record.RevokedAt = &at
}

func (l *memLedger) activeFor(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, record := range l.records {
		if record.UserID == userID && record.ValidAt(l.now()) {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	service *Service
	users   *memUserStore
	ledger  *memLedger
	signer  *Signer
	clock   *fakeClock
}

func newTestEnv(t interface{ Fatalf(string, ...any) }, opts ...ServiceOption) *testEnv {
	clock := newFakeClock()
	signer, err := NewSigner("access-secret-for-tests", "refresh-secret-for-tests",
		WithTTLs(15*time.Minute, 24*time.Hour),
		WithSignerClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	users := newMemUserStore()
	ledger := newMemLedger(clock.Now)
	base := []ServiceOption{WithHasher(NewBcryptHasher(bcrypt.MinCost)), WithClock(clock.Now)}
	service := NewService(users, ledger, signer, append(base, opts...)...)
	return &testEnv{service: service, users: users, ledger: ledger, signer: signer, clock: clock}
}
