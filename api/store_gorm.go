package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/syncpad/syncpad/internal/slogging"
)

// globalStatsRowID is the primary key of the singleton stats row.
const globalStatsRowID = 1

type sessionModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Title        string
	Language     string
	Description  string
	Code         string `gorm:"type:text"`
	CreatedBy    string `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Participants []string `gorm:"serializer:json"`
	IsActive     bool     `gorm:"index"`
	IsPublic     bool
	SessionCode  string `gorm:"size:8;index"`
}

func (sessionModel) TableName() string { return "sessions" }

type globalStatsModel struct {
	ID                 int `gorm:"primaryKey"`
	ActiveSessions     int
	CollaboratingUsers int
	TotalLinesOfCode   int64
	LastUpdated        time.Time
	LastLineCount      map[string]int `gorm:"serializer:json"`
}

func (globalStatsModel) TableName() string { return "global_stats" }

type statsSnapshotModel struct {
	ID                 string    `gorm:"primaryKey;size:64"`
	Timestamp          time.Time `gorm:"index"`
	ActiveSessions     int
	CollaboratingUsers int
	TotalLinesOfCode   int64
}

func (statsSnapshotModel) TableName() string { return "stats_snapshots" }

// AutoMigrate creates or updates the schema for all store models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionModel{}, &globalStatsModel{}, &statsSnapshotModel{})
}

// GormStore implements Store using GORM over PostgreSQL (production) or
// SQLite (development and tests).
type GormStore struct {
	db    *gorm.DB
	cache *CacheService
}

// NewGormStore creates a GORM-backed store with optional caching.
func NewGormStore(db *gorm.DB, cache *CacheService) *GormStore {
	return &GormStore{db: db, cache: cache}
}

func sessionToModel(session *Session) *sessionModel {
	return &sessionModel{
		ID:           session.ID,
		Title:        session.Title,
		Language:     session.Language,
		Description:  session.Description,
		Code:         session.Code,
		CreatedBy:    session.CreatedBy,
		CreatedAt:    session.CreatedAt,
		UpdatedAt:    session.UpdatedAt,
		Participants: session.Participants,
		IsActive:     session.IsActive,
		IsPublic:     session.IsPublic,
		SessionCode:  session.SessionCode,
	}
}

func modelToSession(model *sessionModel) *Session {
	return &Session{
		ID:           model.ID,
		Title:        model.Title,
		Language:     model.Language,
		Description:  model.Description,
		Code:         model.Code,
		CreatedBy:    model.CreatedBy,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
		Participants: model.Participants,
		IsActive:     model.IsActive,
		IsPublic:     model.IsPublic,
		SessionCode:  model.SessionCode,
	}
}

// CreateSession persists a new session document.
func (s *GormStore) CreateSession(ctx context.Context, session *Session) error {
	logger := slogging.Get()
	logger.Debug("Creating session %s (%s)", session.ID, session.Title)

	if err := s.db.WithContext(ctx).Create(sessionToModel(session)).Error; err != nil {
		logger.Error("Failed to create session %s: %v", session.ID, err)
		return fmt.Errorf("failed to create session: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.CacheSessionCode(ctx, session.SessionCode, session.ID); err != nil {
			logger.Warn("Failed to cache session code for %s: %v", session.ID, err)
		}
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *GormStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var model sessionModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return modelToSession(&model), nil
}

// UpdateCode merge-writes the editor content and update time only,
// leaving all other session fields untouched.
func (s *GormStore) UpdateCode(ctx context.Context, sessionID, code string) error {
	result := s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"code":       code,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update session code: %w", result.Error)
	}
	return nil
}

// SetSessionInactive marks the session inactive.
func (s *GormStore) SetSessionInactive(ctx context.Context, sessionID string) error {
	result := s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to end session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	if s.cache != nil {
		s.cache.InvalidateSession(ctx, sessionID)
	}
	return nil
}

// AddParticipant appends the identity to the participant set inside a
// transaction, since the set is stored as a JSON column.
func (s *GormStore) AddParticipant(ctx context.Context, sessionID, identityID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model sessionModel
		if err := tx.First(&model, "id = ?", sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load session: %w", err)
		}
		for _, p := range model.Participants {
			if p == identityID {
				return nil
			}
		}
		model.Participants = append(model.Participants, identityID)
		if err := tx.Model(&model).Update("participants", model.Participants).Error; err != nil {
			return fmt.Errorf("failed to add participant: %w", err)
		}
		return nil
	})
}

// ListPublicSessions returns active public sessions, newest first.
func (s *GormStore) ListPublicSessions(ctx context.Context, limit int) ([]Session, error) {
	var models []sessionModel
	query := s.db.WithContext(ctx).
		Where("is_active = ? AND is_public = ?", true, true).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]Session, 0, len(models))
	for i := range models {
		sessions = append(sessions, *modelToSession(&models[i]))
	}
	return sessions, nil
}

// ResolveSessionCode finds the active session holding the join code,
// consulting the cache first when one is configured.
func (s *GormStore) ResolveSessionCode(ctx context.Context, code string) (*Session, error) {
	if s.cache != nil {
		if sessionID, ok := s.cache.GetSessionIDByCode(ctx, code); ok {
			session, err := s.GetSession(ctx, sessionID)
			if err == nil && session.IsActive {
				return session, nil
			}
			// Stale cache entry; fall through to the database.
		}
	}

	var model sessionModel
	err := s.db.WithContext(ctx).
		First(&model, "session_code = ? AND is_active = ?", code, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session code: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.CacheSessionCode(ctx, code, model.ID); err != nil {
			slogging.Get().Warn("Failed to cache session code %s: %v", code, err)
		}
	}
	return modelToSession(&model), nil
}

// SessionCodeInUse reports whether an active session holds the code.
func (s *GormStore) SessionCodeInUse(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("session_code = ? AND is_active = ?", code, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check session code: %w", err)
	}
	return count > 0, nil
}

// GetGlobalStats loads the singleton stats row.
func (s *GormStore) GetGlobalStats(ctx context.Context) (*GlobalStats, error) {
	var model globalStatsModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", globalStatsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get global stats: %w", err)
	}
	return &GlobalStats{
		ActiveSessions:     model.ActiveSessions,
		CollaboratingUsers: model.CollaboratingUsers,
		TotalLinesOfCode:   model.TotalLinesOfCode,
		LastUpdated:        model.LastUpdated,
		LastLineCount:      model.LastLineCount,
	}, nil
}

// SaveGlobalStats merge-writes the stats document. The persisted line
// total is only overwritten by a larger value so a restarting process
// cannot clobber increments it has not observed.
func (s *GormStore) SaveGlobalStats(ctx context.Context, stats *GlobalStats) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model globalStatsModel
		err := tx.First(&model, "id = ?", globalStatsRowID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model = globalStatsModel{ID: globalStatsRowID, LastLineCount: make(map[string]int)}
		} else if err != nil {
			return fmt.Errorf("failed to load global stats: %w", err)
		}

		model.ActiveSessions = stats.ActiveSessions
		model.CollaboratingUsers = stats.CollaboratingUsers
		if stats.TotalLinesOfCode > model.TotalLinesOfCode {
			model.TotalLinesOfCode = stats.TotalLinesOfCode
		}
		model.LastUpdated = stats.LastUpdated
		if model.LastLineCount == nil {
			model.LastLineCount = make(map[string]int)
		}
		for k, v := range stats.LastLineCount {
			model.LastLineCount[k] = v
		}
		return tx.Save(&model).Error
	})
}

// IncrementTotalLines atomically adds delta to the persisted line counter
// inside a transaction and returns the new total.
func (s *GormStore) IncrementTotalLines(ctx context.Context, delta int64) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model globalStatsModel
		err := tx.First(&model, "id = ?", globalStatsRowID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model = globalStatsModel{ID: globalStatsRowID, LastLineCount: make(map[string]int)}
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("failed to create stats row: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to load global stats: %w", err)
		}

		result := tx.Model(&globalStatsModel{}).
			Where("id = ?", globalStatsRowID).
			UpdateColumn("total_lines_of_code", gorm.Expr("total_lines_of_code + ?", delta))
		if result.Error != nil {
			return fmt.Errorf("failed to increment line counter: %w", result.Error)
		}

		var updated globalStatsModel
		if err := tx.First(&updated, "id = ?", globalStatsRowID).Error; err != nil {
			return fmt.Errorf("failed to re-read line counter: %w", err)
		}
		total = updated.TotalLinesOfCode
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SaveStatsSnapshot records a dated historical snapshot.
func (s *GormStore) SaveStatsSnapshot(ctx context.Context, snapshot *StatsSnapshot) error {
	model := statsSnapshotModel{
		ID:                 snapshot.ID,
		Timestamp:          snapshot.Timestamp,
		ActiveSessions:     snapshot.ActiveSessions,
		CollaboratingUsers: snapshot.CollaboratingUsers,
		TotalLinesOfCode:   snapshot.TotalLinesOfCode,
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to save stats snapshot: %w", err)
	}
	return nil
}
