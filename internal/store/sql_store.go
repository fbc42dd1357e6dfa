package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLStore is the default Store backend: a single SQLite file accessed
// through gorm, using the pure-Go glebarez/sqlite driver (backed by
// modernc.org/sqlite, no cgo) so the module cross-compiles the way the
// rest of the stack does. AutoMigrate
// creates or updates the schema idempotently on open, mirroring how the
// teacher's bootstrap code brings up its relational schema.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// SQLStoreConfig tunes the connection pool. SQLite only usefully serves one
// writer at a time, so the pool is intentionally small (mirrors the
// teacher's pool-manager sizing philosophy, generalized to a single-file
// embedded database rather than a networked one).
type SQLStoreConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLStoreConfig returns sane defaults for a single-host mailbox.
func DefaultSQLStoreConfig(path string) SQLStoreConfig {
	return SQLStoreConfig{
		Path:            path,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// OpenSQLStore opens (creating if necessary) the SQLite file at cfg.Path
// and brings the schema up to date via AutoMigrate.
func OpenSQLStore(cfg SQLStoreConfig, logger *zap.Logger) (*SQLStore, error) {
	gdb, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := gdb.AutoMigrate(&Message{}, &Agent{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	if err := gdb.Exec("CREATE INDEX IF NOT EXISTS idx_messages_priority_ts ON messages(priority, timestamp)").Error; err != nil {
		return nil, fmt.Errorf("create priority/timestamp index: %w", err)
	}

	logger.Info("sql store opened", zap.String("path", cfg.Path))
	return &SQLStore{db: gdb, logger: logger.With(zap.String("component", "store"))}, nil
}

func (s *SQLStore) PutMessage(ctx context.Context, m Message) error {
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

func (s *SQLStore) GetMessage(ctx context.Context, id, viewer string) (Message, error) {
	var m Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND (sender = ? OR recipient = ?)", id, viewer, viewer).
		First(&m).Error
	if err != nil {
		if isRecordNotFound(err) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return m, nil
}

func (s *SQLStore) MessageExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return count > 0, nil
}

func (s *SQLStore) ListInbox(ctx context.Context, recipient string, filter InboxFilter) ([]Message, error) {
	q := s.db.WithContext(ctx).Where("recipient = ? AND archived = ?", recipient, false)
	q = applyDaysBack(q, filter.DaysBack)
	if filter.UnreadOnly {
		q = q.Where("read = ?", false)
	}
	if filter.PriorityEq != "" {
		q = q.Where("priority = ?", string(filter.PriorityEq))
	}
	q = q.Order("CASE priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 WHEN 'low' THEN 0 ELSE -1 END DESC").
		Order("timestamp DESC").
		Order("id ASC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []Message
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return out, nil
}

func (s *SQLStore) Search(ctx context.Context, participant string, filter SearchFilter) ([]Message, error) {
	q := s.db.WithContext(ctx).
		Where("(sender = ? OR recipient = ?) AND archived = ?", participant, participant, false)
	q = applyDaysBack(q, filter.DaysBack)
	if filter.SenderEq != "" {
		q = q.Where("sender = ?", filter.SenderEq)
	}
	if filter.PriorityEq != "" {
		q = q.Where("priority = ?", string(filter.PriorityEq))
	}
	if filter.Query != "" {
		like := "%" + strings.ToLower(filter.Query) + "%"
		q = q.Where("LOWER(subject) LIKE ? OR LOWER(body) LIKE ? OR LOWER(tags) LIKE ?", like, like, like)
	}
	q = q.Order("timestamp DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var out []Message
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	// The LIKE predicate above is a prefilter only (tags is a JSON blob, so
	// a substring match on the serialized column can false-positive on
	// structural characters); re-check precisely in Go to preserve P7.
	filtered := out[:0]
	for _, m := range out {
		if filter.Query == "" || m.MatchesQuery(filter.Query) {
			filtered = append(filtered, m)
		}
	}
	return filtered, nil
}

func (s *SQLStore) GetThread(ctx context.Context, threadID, participant string) ([]Message, error) {
	var out []Message
	err := s.db.WithContext(ctx).
		Where("thread_id = ? AND (sender = ? OR recipient = ?)", threadID, participant, participant).
		Order("timestamp ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return out, nil
}

func (s *SQLStore) MarkRead(ctx context.Context, ids []string, recipient string) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("id IN ? AND recipient = ? AND read = ?", ids, recipient, false).
		Update("read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQLStore) SetArchived(ctx context.Context, id, recipient string) (int, error) {
	res := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("id = ? AND recipient = ? AND archived = ?", id, recipient, false).
		Update("archived", true)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQLStore) Delete(ctx context.Context, id, recipient string) (int, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND recipient = ?", id, recipient).
		Delete(&Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQLStore) UpsertAgent(ctx context.Context, a Agent) error {
	err := s.db.WithContext(ctx).
		Where("name = ? AND machine_id = ?", a.Name, a.MachineID).
		Assign(Agent{LastSeen: a.LastSeen, ProcessInfo: a.ProcessInfo}).
		FirstOrCreate(&a).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

func (s *SQLStore) FindAgent(ctx context.Context, name, machineID string) (Agent, error) {
	var a Agent
	err := s.db.WithContext(ctx).
		Where("name = ? AND machine_id = ?", name, machineID).
		First(&a).Error
	if err != nil {
		if isRecordNotFound(err) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return a, nil
}

func (s *SQLStore) ListAgents(ctx context.Context, onlyRecent time.Duration) ([]Agent, error) {
	q := s.db.WithContext(ctx).Order("last_seen DESC")
	if onlyRecent > 0 {
		q = q.Where("last_seen >= ?", time.Now().UTC().Add(-onlyRecent))
	}
	var out []Agent
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return out, nil
}

func (s *SQLStore) GetStats(ctx context.Context, forAgent string) (Stats, error) {
	stats := Stats{ByPriority: map[Priority]int{}}

	var agentsTotal int64
	if err := s.db.WithContext(ctx).Model(&Agent{}).Count(&agentsTotal).Error; err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	stats.AgentsTotal = int(agentsTotal)

	var inbox []Message
	err := s.db.WithContext(ctx).
		Where("recipient = ? AND archived = ?", forAgent, false).
		Find(&inbox).Error
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	stats.TotalInbox = len(inbox)
	for _, m := range inbox {
		if !m.Read {
			stats.UnreadInbox++
			stats.ByPriority[m.Priority]++
			if m.Priority == PriorityUrgent {
				stats.UnreadUrgent++
			}
		}
	}

	var threadIDs []string
	err = s.db.WithContext(ctx).
		Model(&Message{}).
		Distinct("thread_id").
		Where("sender = ? OR recipient = ?", forAgent, forAgent).
		Pluck("thread_id", &threadIDs).Error
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	stats.DistinctThreadsForAgent = len(threadIDs)

	return stats, nil
}

func (s *SQLStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("archived = ? AND timestamp < ?", true, olderThan).
		Delete(&Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageFailure, res.Error)
	}
	return int(res.RowsAffected), nil
}

// Vacuum reclaims space freed by Cleanup; invoked by the CLI --cleanup flow
// alongside the kernel-level sweep, never automatically.
func (s *SQLStore) Vacuum(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("VACUUM").Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func applyDaysBack(q *gorm.DB, daysBack int) *gorm.DB {
	if daysBack <= 0 {
		return q
	}
	return q.Where("timestamp >= ?", time.Now().UTC().AddDate(0, 0, -daysBack))
}

func isRecordNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}

var _ Store = (*SQLStore)(nil)
