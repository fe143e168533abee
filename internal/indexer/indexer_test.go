package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/release"
)

type fakeSession struct {
	id     int
	valid  atomic.Bool
	closed atomic.Bool
}

func (s *fakeSession) Valid() bool  { return s.valid.Load() }
func (s *fakeSession) Close() error { s.closed.Store(true); return nil }

func newFakeSession(id int) *fakeSession {
	s := &fakeSession{id: id}
	s.valid.Store(true)
	return s
}

func TestSessionCache_ReusesValidSession(t *testing.T) {
	cache := NewSessionCache(zerolog.Nop())
	var logins int32
	login := func(ctx context.Context) (Session, error) {
		n := atomic.AddInt32(&logins, 1)
		return newFakeSession(int(n)), nil
	}

	first, err := cache.Get(context.Background(), "Redacted", login)
	require.NoError(t, err)
	second, err := cache.Get(context.Background(), "Redacted", login)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&logins))
}

func TestSessionCache_ReloginWhenInvalid(t *testing.T) {
	cache := NewSessionCache(zerolog.Nop())
	var logins int32
	login := func(ctx context.Context) (Session, error) {
		return newFakeSession(int(atomic.AddInt32(&logins, 1))), nil
	}

	s, err := cache.Get(context.Background(), "Orpheus", login)
	require.NoError(t, err)
	s.(*fakeSession).valid.Store(false)

	s2, err := cache.Get(context.Background(), "Orpheus", login)
	require.NoError(t, err)
	assert.Equal(t, 2, s2.(*fakeSession).id)
	assert.True(t, s.(*fakeSession).closed.Load())
}

func TestSessionCache_FailedLoginRetriesNextCall(t *testing.T) {
	cache := NewSessionCache(zerolog.Nop())
	fail := true
	login := func(ctx context.Context) (Session, error) {
		if fail {
			return nil, NewAuthError("rutracker.org", errors.New("bad password"))
		}
		return newFakeSession(1), nil
	}

	_, err := cache.Get(context.Background(), "rutracker.org", login)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	fail = false
	s, err := cache.Get(context.Background(), "rutracker.org", login)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSessionCache_ConcurrentLoginsCollapse(t *testing.T) {
	cache := NewSessionCache(zerolog.Nop())
	var logins int32
	gate := make(chan struct{})
	login := func(ctx context.Context) (Session, error) {
		atomic.AddInt32(&logins, 1)
		<-gate
		return newFakeSession(1), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.Get(context.Background(), "Redacted", login)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&logins))
}

func TestSessionCache_InvalidateAndClose(t *testing.T) {
	cache := NewSessionCache(zerolog.Nop())
	a := newFakeSession(1)
	b := newFakeSession(2)
	_, _ = cache.Get(context.Background(), "a", func(context.Context) (Session, error) { return a, nil })
	_, _ = cache.Get(context.Background(), "b", func(context.Context) (Session, error) { return b, nil })

	cache.Invalidate("a")
	assert.True(t, a.closed.Load())
	assert.False(t, b.closed.Load())

	cache.Close()
	assert.True(t, b.closed.Load())
}

func TestQueryFormat(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		want    Format
		maxSize int64
		newznab string
	}{
		{"lossy default", Query{Request: release.Request{Quality: release.QualityHighestLossy}}, FormatLossy, 300_000_000, "3010"},
		{"highest lossless", Query{Request: release.Request{Quality: release.QualityHighestLossless}}, FormatLosslessAndLossy, 10_000_000_000, "3040,3010"},
		{"lossless only", Query{Request: release.Request{Quality: release.QualityLosslessOnly}}, FormatLossless, 10_000_000_000, "3040"},
		{"forced lossless", Query{LosslessOnly: true}, FormatLossless, 10_000_000_000, "3040"},
		{"bitrate with fallback", Query{Request: release.Request{Quality: release.QualityTargetBitrate}, AllowLossless: true}, FormatLosslessAndLossy, 10_000_000_000, "3040,3010"},
		{"audiobook", Query{Request: release.Request{Type: release.TypeOther}}, FormatLossy, 300_000_000, "3030"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Format())
			assert.Equal(t, tt.maxSize, tt.q.MaxSize())
			assert.Equal(t, tt.newznab, NewznabCategories(tt.q))
		})
	}
}

func TestTorznabCategories(t *testing.T) {
	q := Query{Request: release.Request{Quality: release.QualityHighestLossless}}
	assert.Equal(t, []string{"3040", "3010", "3050", "3000"}, TorznabCategories(q))

	q = Query{Request: release.Request{Type: release.TypeOther}}
	assert.Equal(t, []string{"3030", "3000"}, TorznabCategories(q))
}

func TestClassify(t *testing.T) {
	auth := Classify("x", fmt.Errorf("wrapped: %w", &httpclient.StatusError{Code: 401}))
	assert.True(t, IsAuthError(auth))

	limited := Classify("x", &httpclient.StatusError{Code: 429})
	assert.Equal(t, ErrCodeRateLimit, limited.Code)
	assert.True(t, IsRetryable(limited))

	server := Classify("x", &httpclient.StatusError{Code: 502})
	assert.Equal(t, ErrCodeNetwork, server.Code)

	transport := Classify("x", errors.New("connection refused"))
	assert.Equal(t, ErrCodeNetwork, GetErrorCode(transport))

	assert.Nil(t, Classify("x", nil))
	parse := NewParseError("x", "bad item", nil)
	assert.Same(t, parse, Classify("x", parse))
}
