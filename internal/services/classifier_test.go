package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/welcome-tracker/internal/domain"
	"github.com/tbourn/welcome-tracker/internal/repo"
)

func newClassifier(t *testing.T, p *fakeProvider) *Classifier {
	t.Helper()
	if p == nil {
		p = &fakeProvider{}
	}
	return &Classifier{DB: newSvcDB(t), Provider: p, WelcomeChannelID: welcomeCh}
}

func TestClassify_BelowCutoff_NoStoreAccess(t *testing.T) {
	c := newClassifier(t, nil)
	ctx := context.Background()

	for _, m := range []domain.ChatMessage{join("49"), reply("10", welcomeCh, "5"), other("0")} {
		before := dump(t, c.DB)
		out, err := c.Classify(ctx, m, "50")
		if err != nil || out != domain.OutcomeNotProcessed {
			t.Fatalf("Classify(%s) = %v, %v; want NotProcessed", m.ID, out, err)
		}
		if after := dump(t, c.DB); !before.equal(after) {
			t.Fatalf("store mutated for below-cutoff %s: %+v", m.ID, after)
		}
	}
}

func TestClassify_CutoffIsNumeric(t *testing.T) {
	c := newClassifier(t, nil)
	// "100" < "99" lexically but not numerically.
	out, err := c.Classify(context.Background(), join("100"), "99")
	if err != nil || out != domain.OutcomeJoin {
		t.Fatalf("got %v, %v; want OutcomeJoin", out, err)
	}
	// The cutoff message itself is evaluated.
	out, err = c.Classify(context.Background(), other("99"), "99")
	if err != nil || out != domain.OutcomeIgnored {
		t.Fatalf("cutoff message: got %v, %v; want OutcomeIgnored", out, err)
	}
}

func TestClassify_JoinCreation(t *testing.T) {
	c := newClassifier(t, nil)
	ctx := context.Background()

	before := testutil.ToFloat64(classifiedTotal.WithLabelValues("join"))
	out, err := c.Classify(ctx, join("100"), "50")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if out != domain.OutcomeJoin {
		t.Fatalf("outcome = %v; want join", out)
	}
	j, err := getJoin(ctx, c.DB, "100")
	if err != nil {
		t.Fatalf("getJoin: %v", err)
	}
	if j.Welcomed {
		t.Fatalf("new join must be unwelcomed")
	}
	if ok, _ := repo.IsProcessed(ctx, c.DB, "100"); !ok {
		t.Fatalf("ledger row missing")
	}
	if got := testutil.ToFloat64(classifiedTotal.WithLabelValues("join")); got != before+1 {
		t.Fatalf("join counter = %v; want %v", got, before+1)
	}
}

func TestClassify_Dedup_NoMutation(t *testing.T) {
	c := newClassifier(t, &fakeProvider{existing: map[string]bool{"100": true}})
	ctx := context.Background()

	if _, err := c.Classify(ctx, join("100"), "50"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, m := range []domain.ChatMessage{join("100"), reply("100", welcomeCh, "100"), other("100")} {
		before := dump(t, c.DB)
		out, err := c.Classify(ctx, m, "50")
		if err != nil || out != domain.OutcomeNotProcessed {
			t.Fatalf("re-classify %s/%s = %v, %v; want NotProcessed", m.ID, m.Kind, out, err)
		}
		if after := dump(t, c.DB); !before.equal(after) {
			t.Fatalf("store mutated on dedup: %+v -> %+v", before, after)
		}
	}
}

func TestClassify_WelcomeMatch_FlipsExistingJoin(t *testing.T) {
	p := &fakeProvider{existing: map[string]bool{"100": true}}
	c := newClassifier(t, p)
	ctx := context.Background()

	if _, err := c.Classify(ctx, join("100"), "50"); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	out, err := c.Classify(ctx, reply("101", welcomeCh, "100"), "50")
	if err != nil || out != domain.OutcomeWelcome {
		t.Fatalf("got %v, %v; want OutcomeWelcome", out, err)
	}
	j, err := getJoin(ctx, c.DB, "100")
	if err != nil {
		t.Fatalf("getJoin: %v", err)
	}
	if !j.Welcomed || j.WelcomeMessageID == nil || *j.WelcomeMessageID != "101" {
		t.Fatalf("join not welcomed by 101: %+v", j)
	}
	if ok, _ := repo.IsProcessed(ctx, c.DB, "101"); !ok {
		t.Fatalf("reply not in ledger")
	}
}

func TestClassify_WelcomeMatch_CreatesMissingJoin(t *testing.T) {
	// Target below cutoff: never classified itself, but a reply to it still counts.
	c := newClassifier(t, &fakeProvider{existing: map[string]bool{"40": true}})
	ctx := context.Background()

	out, err := c.Classify(ctx, reply("101", welcomeCh, "40"), "50")
	if err != nil || out != domain.OutcomeWelcome {
		t.Fatalf("got %v, %v; want OutcomeWelcome", out, err)
	}
	j, err := getJoin(ctx, c.DB, "40")
	if err != nil || !j.Welcomed {
		t.Fatalf("expected welcomed join 40, got %+v, %v", j, err)
	}
	if ok, _ := repo.IsProcessed(ctx, c.DB, "40"); ok {
		t.Fatalf("welcome must not ledger the target")
	}
}

func TestClassify_WelcomeNeverDowngraded(t *testing.T) {
	p := &fakeProvider{existing: map[string]bool{"100": true}}
	c := newClassifier(t, p)
	ctx := context.Background()

	// Reply seen before the join (scan order is newest first).
	if out, err := c.Classify(ctx, reply("101", welcomeCh, "100"), "50"); err != nil || out != domain.OutcomeWelcome {
		t.Fatalf("reply: %v, %v", out, err)
	}
	if out, err := c.Classify(ctx, join("100"), "50"); err != nil || out != domain.OutcomeJoin {
		t.Fatalf("join: %v, %v", out, err)
	}
	j, _ := getJoin(ctx, c.DB, "100")
	if j == nil || !j.Welcomed {
		t.Fatalf("join was downgraded: %+v", j)
	}
}

func TestClassify_WrongChannelReply_NoMutation(t *testing.T) {
	p := &fakeProvider{existing: map[string]bool{"50": true}}
	c := newClassifier(t, p)

	before := dump(t, c.DB)
	out, err := c.Classify(context.Background(), reply("102", otherCh, "50"), "50")
	if err != nil || out != domain.OutcomeNotProcessed {
		t.Fatalf("got %v, %v; want NotProcessed", out, err)
	}
	if after := dump(t, c.DB); !before.equal(after) {
		t.Fatalf("wrong-channel reply mutated the store: %+v", after)
	}
	if p.fetchCalls != 0 {
		t.Fatalf("wrong-channel reply must not fetch, got %d calls", p.fetchCalls)
	}
}

func TestClassify_ReplyIgnoredCases(t *testing.T) {
	cases := []struct {
		name string
		p    *fakeProvider
		msg  domain.ChatMessage
	}{
		{"target gone", &fakeProvider{existing: map[string]bool{}}, reply("101", welcomeCh, "100")},
		{"target not qualifying", &fakeProvider{existing: map[string]bool{"100": false}}, reply("101", welcomeCh, "100")},
		{"lookup error", &fakeProvider{fetchErr: errors.New("500 from platform")}, reply("101", welcomeCh, "100")},
		{"reply without reference", &fakeProvider{}, domain.ChatMessage{ID: "101", Kind: domain.KindReply}},
		{"other kind", &fakeProvider{}, other("101")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newClassifier(t, tc.p)
			ctx := context.Background()

			out, err := c.Classify(ctx, tc.msg, "50")
			if err != nil || out != domain.OutcomeIgnored {
				t.Fatalf("got %v, %v; want OutcomeIgnored", out, err)
			}
			s := dump(t, c.DB)
			if len(s.joins) != 0 {
				t.Fatalf("no join record expected, got %+v", s.joins)
			}
			if len(s.processed) != 1 || s.processed[0] != "101" {
				t.Fatalf("ledger = %v; want [101]", s.processed)
			}
		})
	}
}

func TestClassify_ConcurrentDuplicate(t *testing.T) {
	c := newClassifier(t, nil)
	ctx := context.Background()

	const n = 2
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		outs  = make([]domain.Outcome, n)
		errs  = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			outs[i], errs[i] = c.Classify(ctx, join("200"), "50")
		}(i)
	}
	close(start)
	wg.Wait()

	joins := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("classification %d returned error: %v", i, errs[i])
		}
		if outs[i] == domain.OutcomeJoin {
			joins++
		}
	}
	if joins != 1 {
		t.Fatalf("expected exactly one OutcomeJoin, got %v", outs)
	}
	if got := countRows(t, c.DB, &domain.JoinMessage{}, "200"); got != 1 {
		t.Fatalf("join rows = %d; want 1", got)
	}
	if got := countRows(t, c.DB, &domain.ProcessedMessage{}, "200"); got != 1 {
		t.Fatalf("ledger rows = %d; want 1", got)
	}
}

func TestClassify_DuplicateInsertRollsBackPairedWrite(t *testing.T) {
	c := newClassifier(t, &fakeProvider{existing: map[string]bool{"100": true}})
	ctx := context.Background()

	// A concurrent scan ledgered the reply after our IsProcessed check;
	// classifyReply skips that check.
	if err := repo.CreateProcessed(ctx, c.DB, "101"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out, err := c.classifyReply(ctx, reply("101", welcomeCh, "100"))
	if err != nil || out != domain.OutcomeNotProcessed {
		t.Fatalf("got %v, %v; want NotProcessed", out, err)
	}
	if _, err := getJoin(ctx, c.DB, "100"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("welcome upsert should have rolled back, got %v", err)
	}
}

func TestClassify_StoreErrorPropagates(t *testing.T) {
	c := newClassifier(t, nil)
	sqlDB, err := c.DB.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	_ = sqlDB.Close()

	out, err := c.Classify(context.Background(), join("100"), "50")
	if err == nil {
		t.Fatalf("expected store error")
	}
	if out != domain.OutcomeNotProcessed {
		t.Fatalf("outcome on error = %v", out)
	}
	if errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("store failure must not look like a duplicate: %v", err)
	}
}
