package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/estudaenem/tutor/internal/exam"
	"github.com/estudaenem/tutor/internal/model"
)

func testSession(t *testing.T) exam.Session {
	t.Helper()
	qs := []model.Question{
		{ID: "q1", Prompt: "2+2?", Options: []string{"3", "4"}, CorrectOption: "4", Subject: "matematica", Difficulty: 1},
		{ID: "q2", Prompt: "Capital?", Options: []string{"Brasília", "Rio"}, CorrectOption: "Brasília", Subject: "geografia", Difficulty: 2},
	}
	start := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	s, err := exam.Start("sess-1", "u1", "", qs, start, func(int, func(i, j int)) {})
	if err != nil {
		t.Fatalf("exam.Start: %v", err)
	}
	s, err = exam.SelectAnswer(s, "q1", "4")
	if err != nil {
		t.Fatalf("exam.SelectAnswer: %v", err)
	}
	return s
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	s := testSession(t)

	if _, err := store.Get(ctx, s.ID); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound before Put, got %v", err)
	}
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "u1" || got.State != exam.StateInProgress || len(got.Questions) != 2 {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Answers["q1"] != "4" || got.Questions[1].CorrectOption != "Brasília" {
		t.Errorf("answers or questions lost: %+v", got)
	}
	if !got.StartedAt.Equal(s.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, s.StartedAt)
	}

	next, err := store.Update(ctx, s.ID, func(s exam.Session) (exam.Session, bool, error) {
		s, err := exam.SelectAnswer(s, "q2", "Rio")
		return s, false, err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if next.Answers["q2"] != "Rio" {
		t.Errorf("Update returned %v", next.Answers)
	}
	if got, _ := store.Get(ctx, s.ID); got.Answers["q2"] != "Rio" || got.Answers["q1"] != "4" {
		t.Errorf("stored answers after Update = %v", got.Answers)
	}

	_, err = store.Update(ctx, s.ID, func(s exam.Session) (exam.Session, bool, error) {
		s, err := exam.SelectAnswer(s, "q2", "Lisboa")
		return s, false, err
	})
	if !errors.Is(err, model.ErrOptionNotFound) {
		t.Fatalf("expected ErrOptionNotFound from fn, got %v", err)
	}
	if got, _ := store.Get(ctx, s.ID); got.Answers["q2"] != "Rio" {
		t.Errorf("failed Update changed the session: %v", got.Answers)
	}

	if _, err := store.Update(ctx, s.ID, func(s exam.Session) (exam.Session, bool, error) {
		return s, true, nil
	}); err != nil {
		t.Fatalf("Update removing the session: %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after removal, got %v", err)
	}
	if _, err := store.Update(ctx, s.ID, func(s exam.Session) (exam.Session, bool, error) {
		t.Error("fn called for a removed session")
		return s, false, nil
	}); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound from Update after removal, got %v", err)
	}
}

// exerciseConcurrentRemoval races several updates that each try to finish the
// same session. Exactly one of them may commit the removal.
func exerciseConcurrentRemoval(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	s := testSession(t)
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const callers = 8
	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		removed  atomic.Int32
		notFound atomic.Int32
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.Update(ctx, s.ID, func(s exam.Session) (exam.Session, bool, error) {
				s.State = exam.StateCompleted
				return s, true, nil
			})
			switch {
			case err == nil:
				removed.Add(1)
			case errors.Is(err, model.ErrSessionNotFound):
				notFound.Add(1)
			default:
				t.Errorf("Update: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if removed.Load() != 1 || notFound.Load() != callers-1 {
		t.Errorf("removed=%d notFound=%d, want 1 and %d", removed.Load(), notFound.Load(), callers-1)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(0))
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	s := testSession(t)
	if err := store.Put(context.Background(), s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	now = now.Add(59 * time.Second)
	if _, err := store.Get(context.Background(), s.ID); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}
	now = now.Add(time.Second)
	if _, err := store.Get(context.Background(), s.ID); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after expiry, got %v", err)
	}
}

func TestMemoryStoreRefreshedSessionSurvivesExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	s := testSession(t)
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	now = now.Add(time.Minute)
	// A Get that saw the stale entry lost the race to this refresh.
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store.dropExpired(s.ID)
	if _, err := store.Get(ctx, s.ID); err != nil {
		t.Fatalf("refreshed session was dropped: %v", err)
	}

	now = now.Add(time.Minute)
	store.dropExpired(s.ID)
	if _, ok := store.sessions[s.ID]; ok {
		t.Error("expired session was kept")
	}
}

func TestMemoryStoreUpdateExpired(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	s := testSession(t)
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	now = now.Add(30 * time.Second)
	if _, err := store.Update(ctx, s.ID, func(s exam.Session) (exam.Session, bool, error) { return s, false, nil }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	now = now.Add(45 * time.Second)
	if _, err := store.Get(ctx, s.ID); err != nil {
		t.Fatalf("Update did not refresh the expiry: %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := store.Update(ctx, s.ID, func(s exam.Session) (exam.Session, bool, error) { return s, false, nil }); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for expired session, got %v", err)
	}
}

func TestMemoryStoreConcurrentRemoval(t *testing.T) {
	exerciseConcurrentRemoval(t, NewMemoryStore(0))
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	exerciseStore(t, store)
}

func TestRedisStoreConcurrentRemoval(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	exerciseConcurrentRemoval(t, store)
	if mr.Exists("exam:session:sess-1") {
		t.Error("removed session is still in redis")
	}
}

func TestRedisStoreSetsTTL(t *testing.T) {
	store, mr := newRedisStore(t, 2*time.Hour)
	s := testSession(t)
	if err := store.Put(context.Background(), s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !mr.Exists("exam:session:sess-1") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("exam:session:sess-1"); ttl != 2*time.Hour {
		t.Errorf("TTL = %v, want 2h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Get(context.Background(), s.ID); !errors.Is(err, model.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after TTL, got %v", err)
	}
}

func TestRedisStoreUpdateRefreshesTTL(t *testing.T) {
	store, mr := newRedisStore(t, 2*time.Hour)
	ctx := context.Background()
	s := testSession(t)
	if err := store.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}
	mr.FastForward(time.Hour)
	if _, err := store.Update(ctx, s.ID, func(s exam.Session) (exam.Session, bool, error) {
		s.Cursor = 1
		return s, false, nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if ttl := mr.TTL("exam:session:sess-1"); ttl != 2*time.Hour {
		t.Errorf("TTL after Update = %v, want 2h", ttl)
	}
	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", got.Cursor)
	}
}
