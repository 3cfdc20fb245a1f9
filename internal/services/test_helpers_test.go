package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/darienwest/gatehouse/internal/config"
	"github.com/darienwest/gatehouse/internal/models"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testAudit() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(testLogger())
}

func testSecurityConfig() config.SecurityConfig {
	return config.SecurityConfig{
		LockoutThreshold:           5,
		IPBlockThreshold:           20,
		CaptchaThreshold:           3,
		AttemptWindow:              time.Hour,
		DelayBase:                  500 * time.Millisecond,
		DelayMax:                   8 * time.Second,
		SuspicionVelocityPerMinute: 10,
		SuspicionRiskThreshold:     50,
	}
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		DefaultMaxAge:    24 * time.Hour,
		RememberMeMaxAge: 30 * 24 * time.Hour,
		FreshnessMaxAge:  15 * time.Minute,
		TrackActivity:    true,
	}
}

// memLedger is an in-memory AttemptLedger. Err, when set, is returned from
// every read to exercise fail-open paths.
type memLedger struct {
	mu       sync.Mutex
	attempts []*models.LoginAttempt
	Err      error
}

func newMemLedger() *memLedger {
	return &memLedger{}
}

func (l *memLedger) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.attempts = append(l.attempts, attempt)
	return nil
}

func (l *memLedger) CountFailedByIdentifier(ctx context.Context, identifier string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return 0, l.Err
	}
	count := 0
	for _, a := range l.attempts {
		if a.Identifier == identifier && a.Outcome.Failed() && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}

func (l *memLedger) CountFailedByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return 0, l.Err
	}
	count := 0
	for _, a := range l.attempts {
		if a.IPAddress == ip && a.Outcome.Failed() && !a.AttemptTime.Before(since) {
			count++
		}
	}
	return count, nil
}

func (l *memLedger) FailureTimesByIdentifier(ctx context.Context, identifier string, since time.Time, limit int) ([]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var times []time.Time
	// newest first, like the SQL ORDER BY ... DESC
	for i := len(l.attempts) - 1; i >= 0; i-- {
		a := l.attempts[i]
		if a.Identifier == identifier && a.Outcome.Failed() && !a.AttemptTime.Before(since) {
			times = append(times, a.AttemptTime)
			if len(times) == limit {
				break
			}
		}
	}
	return times, nil
}

func (l *memLedger) FailureTimesByIP(ctx context.Context, ip string, since time.Time, limit int) ([]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var times []time.Time
	for i := len(l.attempts) - 1; i >= 0; i-- {
		a := l.attempts[i]
		if a.IPAddress == ip && a.Outcome.Failed() && !a.AttemptTime.Before(since) {
			times = append(times, a.AttemptTime)
			if len(times) == limit {
				break
			}
		}
	}
	return times, nil
}

func (l *memLedger) RecentAttempts(ctx context.Context, identifier string, since time.Time) ([]*models.LoginAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var out []*models.LoginAttempt
	for _, a := range l.attempts {
		if a.Identifier == identifier && !a.AttemptTime.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (l *memLedger) ClearFailures(ctx context.Context, identifier, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	kept := l.attempts[:0]
	for _, a := range l.attempts {
		if a.Outcome.Failed() && (a.Identifier == identifier || a.IPAddress == ip) {
			continue
		}
		kept = append(kept, a)
	}
	l.attempts = kept
	return nil
}

// memEvents is an in-memory SecurityEventRecorder
type memEvents struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (m *memEvents) Record(ctx context.Context, event *models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memEvents) ofType(eventType string) []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SecurityEvent
	for _, e := range m.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// memSessionStore is an in-memory SessionStore
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	tokens   map[string]*models.RememberMeToken
	Err      error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]*models.Session),
		tokens:   make(map[string]*models.RememberMeToken),
	}
}

func (s *memSessionStore) Create(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, exists := s.sessions[session.ID]; exists {
		return models.ErrConflict
	}
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *memSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	session, ok := s.sessions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *memSessionStore) Touch(ctx context.Context, id string, lastActivity, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	session.LastActivity = lastActivity
	session.ExpiresAt = expiresAt
	return nil
}

func (s *memSessionStore) SetSecurityLevel(ctx context.Context, id string, level models.SecurityLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return models.ErrNotFound
	}
	session.SecurityLevel = level
	return nil
}

func (s *memSessionStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

func (s *memSessionStore) DeleteAllForUser(ctx context.Context, userID, exceptID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, session := range s.sessions {
		if session.UserID == userID && id != exceptID {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (s *memSessionStore) ListByUser(ctx context.Context, userID string) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			copied := *session
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memSessionStore) CreateRememberMeToken(ctx context.Context, t *models.RememberMeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.tokens[t.TokenHash] = &copied
	return nil
}

func (s *memSessionStore) GetRememberMeToken(ctx context.Context, tokenHash string) (*models.RememberMeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *token
	return &copied, nil
}

func (s *memSessionStore) ConsumeRememberMeToken(ctx context.Context, tokenHash string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[tokenHash]
	if !ok || token.UsedAt != nil {
		return false, nil
	}
	token.UsedAt = &usedAt
	return true, nil
}

func (s *memSessionStore) DeleteRememberMeTokensForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, token := range s.tokens {
		if token.UserID == userID {
			delete(s.tokens, hash)
		}
	}
	return nil
}

// memUsers is an in-memory UserDirectory
type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User // keyed by id
}

func newMemUsers(users ...*models.User) *memUsers {
	m := &memUsers{users: make(map[string]*models.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == identifier || (u.Phone != "" && u.Phone == identifier) {
			return u, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) SetTOTPSecret(ctx context.Context, userID, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.ErrNotFound
	}
	u.TOTPSecret = secret
	return nil
}

// recordingNotifier captures alert dispatches
type recordingNotifier struct {
	mu         sync.Mutex
	lockouts   []string
	suspicious []string
}

func (n *recordingNotifier) NotifyLockout(ctx context.Context, user *models.User, status models.LockoutStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lockouts = append(n.lockouts, user.Email)
}

func (n *recordingNotifier) NotifySuspiciousActivity(ctx context.Context, user *models.User, report models.SuspicionReport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.suspicious = append(n.suspicious, user.Email)
}
