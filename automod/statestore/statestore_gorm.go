package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/opentelemetry/tracing"
)

type banRow struct {
	UserID    string `gorm:"primaryKey"`
	Nickname  string
	Reason    string
	CreatedAt time.Time
}

func (banRow) TableName() string { return "bans" }

type counterRow struct {
	Name   string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey"`
	Value  int
}

func (counterRow) TableName() string { return "counters" }

type formerMemberRow struct {
	Key      string `gorm:"primaryKey"`
	Nickname string
}

func (formerMemberRow) TableName() string { return "former_members" }

type muteRow struct {
	UserID    string `gorm:"primaryKey"`
	ExpiresAt time.Time
	Notified  bool
}

func (muteRow) TableName() string { return "mutes" }

// Store backed by a SQL database (sqlite or postgres) through gorm.
type GormStore struct {
	db *gorm.DB
}

// OpenDatabase connects to a database by URL: "sqlite://<path>" or a "postgres://" / "postgresql://" URL. Query spans are recorded through the opentelemetry plugin.
func OpenDatabase(dburl string) (*gorm.DB, error) {
	var dial gorm.Dialector
	isSqlite := false
	openConns := 20
	switch {
	case strings.HasPrefix(dburl, "sqlite://"):
		suffix := dburl[len("sqlite://"):]
		if !strings.HasPrefix(suffix, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(suffix), os.ModePerm); err != nil {
				return nil, err
			}
		}
		dial = sqlite.Open(suffix)
		openConns = 1
		isSqlite = true
	case strings.HasPrefix(dburl, "postgresql://"), strings.HasPrefix(dburl, "postgres://"):
		// can pass entire URL, with prefix, to gorm driver
		dial = postgres.Open(dburl)
	default:
		return nil, fmt.Errorf("unsupported or unrecognized database URL scheme")
	}

	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return nil, err
	}

	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(openConns)
	sqldb.SetConnMaxIdleTime(time.Hour)

	if isSqlite {
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Wraps an open database, creating tables as needed.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&banRow{}, &counterRow{}, &formerMemberRow{}, &muteRow{}); err != nil {
		return nil, fmt.Errorf("migrating state tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) GetBan(ctx context.Context, userID string) (*BanRecord, error) {
	var row banRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	rec := BanRecord(row)
	return &rec, nil
}

func (s *GormStore) PutBan(ctx context.Context, rec BanRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	row := banRow(rec)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) DeleteBan(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&banRow{}).Error
}

func (s *GormStore) ListBans(ctx context.Context) ([]BanRecord, error) {
	var rows []banRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]BanRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, BanRecord(r))
	}
	sortBans(out)
	return out, nil
}

func (s *GormStore) GetCount(ctx context.Context, name, userID string) (int, error) {
	var row counterRow
	err := s.db.WithContext(ctx).Where("name = ? AND user_id = ?", name, userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return row.Value, nil
}

func (s *GormStore) IncrementCount(ctx context.Context, name, userID string) (int, error) {
	var v int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := counterRow{Name: name, UserID: userID, Value: 1}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{"value": gorm.Expr("counters.value + 1")}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		var cur counterRow
		if err := tx.Where("name = ? AND user_id = ?", name, userID).Take(&cur).Error; err != nil {
			return err
		}
		v = cur.Value
		return nil
	})
	return v, err
}

func (s *GormStore) ResetCount(ctx context.Context, name, userID string) error {
	return s.db.WithContext(ctx).Where("name = ? AND user_id = ?", name, userID).Delete(&counterRow{}).Error
}

func (s *GormStore) PutFormerMember(ctx context.Context, key, nickname string) error {
	row := formerMemberRow{Key: key, Nickname: nickname}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) DeleteFormerMember(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&formerMemberRow{}).Error
}

func (s *GormStore) ListFormerMembers(ctx context.Context) (map[string]string, error) {
	var rows []formerMemberRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Nickname
	}
	return out, nil
}

func (s *GormStore) PutMute(ctx context.Context, rec MuteRecord) error {
	row := muteRow(rec)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *GormStore) DeleteMute(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&muteRow{}).Error
}

func (s *GormStore) ListMutes(ctx context.Context) ([]MuteRecord, error) {
	var rows []muteRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]MuteRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, MuteRecord(r))
	}
	sortMutes(out)
	return out, nil
}
