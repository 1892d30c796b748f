package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"storagetier/internal/errs"
)

// timestampLayout is fixed-width so stored timestamps compare correctly as strings.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

type Options struct {
	// Now overrides the clock used for timestamps and access-age calculations.
	Now func() time.Time
}

func New(gormDB *gorm.DB, opts Options) (*Store, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: gormDB, now: now}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Now() time.Time {
	return s.now().UTC()
}

func (s *Store) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func ParseTime(raw string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, raw)
}

func (s *Store) nowString() string {
	return FormatTime(s.now())
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.Persistence(op, err)
}
