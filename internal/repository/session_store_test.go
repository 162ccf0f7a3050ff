package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

// sessionStoreContract runs the behaviour shared by every backend.
func sessionStoreContract(t *testing.T, s SessionStore) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := s.Get(ctx, 1); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("MutateMissing", func(t *testing.T) {
		_, err := s.Mutate(ctx, 1, func(*domain.Session) error { return nil })
		if !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})

	t.Run("GetOrCreate", func(t *testing.T) {
		calls := 0
		init := func() *domain.Session {
			calls++
			return domain.NewSession(1, 10, true)
		}

		first, err := s.GetOrCreate(ctx, 1, init)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if first.Step != domain.StepIdle || !first.IsAdmin {
			t.Errorf("session = %+v, want idle admin", first)
		}

		second, err := s.GetOrCreate(ctx, 1, init)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("init called %d times, want 1", calls)
		}
		if second.ChatID != 10 {
			t.Errorf("ChatID = %d, want 10", second.ChatID)
		}
	})

	t.Run("MutateStores", func(t *testing.T) {
		got, err := s.Mutate(ctx, 1, func(sess *domain.Session) error {
			sess.Step = domain.StepAwaitingTitle
			sess.VideoInfo.FilePath = "/tmp/a.mp4"
			return nil
		})
		if err != nil {
			t.Fatalf("Mutate failed: %v", err)
		}
		if got.Step != domain.StepAwaitingTitle {
			t.Errorf("returned Step = %q", got.Step)
		}

		stored, err := s.Get(ctx, 1)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if stored.Step != domain.StepAwaitingTitle || stored.VideoInfo.FilePath != "/tmp/a.mp4" {
			t.Errorf("stored = %+v", stored)
		}
	})

	t.Run("MutateErrorDiscards", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := s.Mutate(ctx, 1, func(sess *domain.Session) error {
			sess.Step = domain.StepUploading
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}
		stored, _ := s.Get(ctx, 1)
		if stored.Step != domain.StepAwaitingTitle {
			t.Errorf("Step = %q, want unchanged awaiting_title", stored.Step)
		}
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		got, _ := s.Get(ctx, 1)
		got.Step = domain.StepIdle
		stored, _ := s.Get(ctx, 1)
		if stored.Step != domain.StepAwaitingTitle {
			t.Errorf("stored Step = %q, caller mutation leaked", stored.Step)
		}
	})

	t.Run("ConcurrentMutate", func(t *testing.T) {
		if _, err := s.GetOrCreate(ctx, 2, func() *domain.Session { return domain.NewSession(2, 20, false) }); err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Mutate(ctx, 2, func(sess *domain.Session) error {
					sess.UploadProgress++
					return nil
				})
				if err != nil {
					t.Errorf("Mutate failed: %v", err)
				}
			}()
		}
		wg.Wait()

		got, _ := s.Get(ctx, 2)
		if got.UploadProgress != 5 {
			t.Errorf("UploadProgress = %d, want 5", got.UploadProgress)
		}
	})

	t.Run("List", func(t *testing.T) {
		all, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(all) != 2 || all[0].UserID != 1 || all[1].UserID != 2 {
			ids := make([]string, len(all))
			for i, x := range all {
				ids[i] = x.UserID.String()
			}
			t.Errorf("List = %v, want [1 2]", ids)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, 1); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := s.Delete(ctx, 1); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, 1); !errors.Is(err, domain.ErrSessionNotFound) {
			t.Errorf("err = %v, want ErrSessionNotFound", err)
		}
	})
}

func TestInMemorySessionStore_Contract(t *testing.T) {
	sessionStoreContract(t, NewInMemorySessionStore())
}

func TestRedisSessionStore_Contract(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   3,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.Close()

	prefix := fmt.Sprintf("deepyt:test:%s:", t.Name())
	cleanup := func() {
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	defer cleanup()

	s, err := NewRedisSessionStore(client, prefix)
	if err != nil {
		t.Fatalf("NewRedisSessionStore failed: %v", err)
	}
	sessionStoreContract(t, s)
}

func TestNewRedisSessionStore_NilClient(t *testing.T) {
	if _, err := NewRedisSessionStore(nil, ""); err == nil {
		t.Error("expected error for nil client")
	}
}

func TestInMemorySessionStore_IsolatedUsers(t *testing.T) {
	s := NewInMemorySessionStore()
	ctx := context.Background()
	for _, id := range []domain.UserID{1, 2} {
		id := id
		s.GetOrCreate(ctx, id, func() *domain.Session { return domain.NewSession(id, int64(id), false) })
	}

	var wg sync.WaitGroup
	for _, tc := range []struct {
		id    domain.UserID
		title string
	}{{1, "first"}, {2, "second"}} {
		wg.Add(1)
		go func(id domain.UserID, title string) {
			defer wg.Done()
			s.Mutate(ctx, id, func(sess *domain.Session) error {
				sess.VideoInfo.Title = title
				return nil
			})
		}(tc.id, tc.title)
	}
	wg.Wait()

	a, _ := s.Get(ctx, 1)
	b, _ := s.Get(ctx, 2)
	if a.VideoInfo.Title != "first" || b.VideoInfo.Title != "second" {
		t.Errorf("titles = %q, %q", a.VideoInfo.Title, b.VideoInfo.Title)
	}
}
