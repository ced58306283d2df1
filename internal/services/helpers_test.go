package services

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/welcome-tracker/internal/domain"
	"github.com/tbourn/welcome-tracker/internal/repo"
)

const (
	welcomeCh = "900"
	otherCh   = "901"
	guildID   = "800"
)

// ---------- test helpers ----------

// newSvcDB opens a migrated file-backed store. File databases (rather than
// shared-cache memory) let concurrent transactions wait on busy_timeout.
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeProvider serves a fixed channel history and a set of existing messages.
type fakeProvider struct {
	mu sync.Mutex

	// history is the welcome channel, any order; FetchPage sorts newest first.
	history []domain.ChatMessage
	// existing maps message id -> qualifies. Missing ids are "deleted".
	existing map[string]bool

	pageErr   error
	pageErrAt int // 1-based FetchPage call that fails; 0 means every call
	fetchErr  error
	existsErr error

	pageCalls  int
	fetchCalls int
	befores    []string
}

func (f *fakeProvider) FetchPage(_ context.Context, _ string, before string, limit int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls++
	f.befores = append(f.befores, before)
	if f.pageErr != nil && (f.pageErrAt == 0 || f.pageCalls == f.pageErrAt) {
		return nil, f.pageErr
	}
	msgs := append([]domain.ChatMessage(nil), f.history...)
	sort.Slice(msgs, func(i, j int) bool { return domain.CompareIDs(msgs[i].ID, msgs[j].ID) > 0 })

	out := make([]domain.ChatMessage, 0, limit)
	for _, m := range msgs {
		if before != "" && domain.CompareIDs(m.ID, before) >= 0 {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeProvider) FetchMessage(_ context.Context, _ string, id string) (*domain.FetchedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	q, ok := f.existing[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return &domain.FetchedMessage{ID: id, HasQualifyingAttachment: q}, nil
}

func (f *fakeProvider) MessageExists(_ context.Context, _ string, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	_, ok := f.existing[id]
	return ok, nil
}

func join(id string) domain.ChatMessage {
	return domain.ChatMessage{ID: id, Kind: domain.KindJoin}
}

func reply(id, channelID, target string) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        id,
		Kind:      domain.KindReply,
		Reference: &domain.MessageRef{ChannelID: channelID, MessageID: target},
	}
}

func other(id string) domain.ChatMessage {
	return domain.ChatMessage{ID: id, Kind: domain.KindOther}
}

// snapshot is a comparable dump of both tables.
type snapshot struct {
	joins     map[string]bool
	processed []string
}

func dump(t *testing.T, db *gorm.DB) snapshot {
	t.Helper()
	var joins []domain.JoinMessage
	if err := db.Order("message_id").Find(&joins).Error; err != nil {
		t.Fatalf("dump joins: %v", err)
	}
	var led []domain.ProcessedMessage
	if err := db.Order("message_id").Find(&led).Error; err != nil {
		t.Fatalf("dump ledger: %v", err)
	}
	s := snapshot{joins: map[string]bool{}}
	for _, j := range joins {
		s.joins[j.MessageID] = j.Welcomed
	}
	for _, p := range led {
		s.processed = append(s.processed, p.MessageID)
	}
	return s
}

func (s snapshot) equal(o snapshot) bool {
	if len(s.joins) != len(o.joins) || len(s.processed) != len(o.processed) {
		return false
	}
	for k, v := range s.joins {
		if w, ok := o.joins[k]; !ok || w != v {
			return false
		}
	}
	for i := range s.processed {
		if s.processed[i] != o.processed[i] {
			return false
		}
	}
	return true
}

func countRows(t *testing.T, db *gorm.DB, model any, id string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Where("message_id = ?", id).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// getJoin loads one join record, or repo.ErrNotFound.
func getJoin(ctx context.Context, db *gorm.DB, messageID string) (*domain.JoinMessage, error) {
	var j domain.JoinMessage
	if err := db.WithContext(ctx).Where("message_id = ?", messageID).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}
