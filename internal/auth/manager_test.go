package auth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/internal/venue"
	"github.com/betbot/tradestream/pkg/secretstore"
)

type fakeAuth struct {
	logins    atomic.Int32
	refreshes atomic.Int32
	delay     time.Duration

	mu         sync.Mutex
	loginErrs  []error // 依次返回，用完后成功
	refreshErr error
}

func (f *fakeAuth) pair(prefix string, n int32) *venue.TokenPair {
	now := time.Now()
	return &venue.TokenPair{
		AccessToken:      prefix + "-access-" + string(rune('0'+n)),
		RefreshToken:     prefix + "-refresh",
		AccessExpiresAt:  now.Add(time.Hour).UnixMilli(),
		RefreshExpiresAt: now.Add(24 * time.Hour).UnixMilli(),
	}
}

func (f *fakeAuth) Login(ctx context.Context, login, password string) (*venue.TokenPair, error) {
	n := f.logins.Add(1)
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.loginErrs) > 0 {
		err := f.loginErrs[0]
		f.loginErrs = f.loginErrs[1:]
		return nil, err
	}
	return f.pair("login", n), nil
}

func (f *fakeAuth) Refresh(ctx context.Context, refreshToken string) (*venue.TokenPair, error) {
	n := f.refreshes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.pair("refresh", n), nil
}

func newStore(t *testing.T) *secretstore.Store {
	t.Helper()
	st, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newManager(t *testing.T, fa *fakeAuth, st *secretstore.Store) *Manager {
	t.Helper()
	m := NewManager(fa, st, Options{SessionID: "s1", Login: "user", Password: "secret"})
	t.Cleanup(m.Close)
	return m
}

func putToken(t *testing.T, st *secretstore.Store, name, value string, expires time.Time) {
	t.Helper()
	raw, err := storedToken{Value: value, ExpiresAt: expires.UnixMilli()}.encode()
	require.NoError(t, err)
	require.NoError(t, st.SetString(secretstore.SessionKey("s1", name), raw))
}

// TestEnsureValidSingleFlight N 个并发调用只触发一次网络刷新
func TestEnsureValidSingleFlight(t *testing.T) {
	fa := &fakeAuth{delay: 100 * time.Millisecond}
	m := newManager(t, fa, newStore(t))

	const n = 20
	var wg sync.WaitGroup
	bearers := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := m.EnsureValid(context.Background())
			bearers[i], errs[i] = cred.Bearer(), err
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), fa.logins.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, bearers[0], bearers[i])
	}

	// 持有的令牌未过期，不再访问网络
	_, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), fa.logins.Load())
}

func TestEnsureValidUsesPersistedAccess(t *testing.T) {
	fa := &fakeAuth{}
	st := newStore(t)
	putToken(t, st, keyAccess, "stored", time.Now().Add(time.Hour))
	m := newManager(t, fa, st)

	cred, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored", cred.Bearer())
	assert.Zero(t, fa.logins.Load())
	assert.Zero(t, fa.refreshes.Load())
}

func TestEnsureValidExchangesRefreshToken(t *testing.T) {
	fa := &fakeAuth{}
	st := newStore(t)
	putToken(t, st, keyAccess, "old", time.Now().Add(-time.Minute))
	putToken(t, st, keyRefresh, "r", time.Now().Add(time.Hour))
	m := newManager(t, fa, st)

	cred, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-access-1", cred.Bearer())
	assert.Equal(t, int32(1), fa.refreshes.Load())
	assert.Zero(t, fa.logins.Load())

	raw, ok, err := st.GetString(secretstore.SessionKey("s1", keyAccess))
	require.NoError(t, err)
	require.True(t, ok)
	tok, err := decodeStoredToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "refresh-access-1", tok.Value)
}

func TestEnsureValidTerminalErrors(t *testing.T) {
	cases := []struct {
		code  string
		check func(t *testing.T, err error)
	}{
		{CodeInvalidCredentials, func(t *testing.T, err error) {
			var authErr *domain.AuthorizationError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, CodeInvalidCredentials, authErr.Code)
		}},
		{CodeNoActiveSession, func(t *testing.T, err error) {
			var authErr *domain.AuthorizationError
			require.True(t, errors.As(err, &authErr))
		}},
		{CodeBlocked, func(t *testing.T, err error) {
			var blockErr *domain.BlockError
			require.True(t, errors.As(err, &blockErr))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			st := newStore(t)
			putToken(t, st, keyRefresh, "r", time.Now().Add(time.Hour))
			fa := &fakeAuth{refreshErr: &venue.RejectionError{Code: tc.code, Message: "no"}}
			m := newManager(t, fa, st)

			_, err := m.EnsureValid(context.Background())
			require.Error(t, err)
			tc.check(t, err)

			_, ok, err := st.GetString(secretstore.SessionKey("s1", keyRefresh))
			require.NoError(t, err)
			assert.False(t, ok, "拒绝后清除持久化令牌")
		})
	}
}

// TestEnsureValidRetriesTransient 临时错误按固定间隔重试，不向调用方传播
func TestEnsureValidRetriesTransient(t *testing.T) {
	fa := &fakeAuth{loginErrs: []error{errors.New("connection reset")}}
	m := newManager(t, fa, newStore(t))

	start := time.Now()
	cred, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.False(t, cred.IsZero())
	assert.Equal(t, int32(2), fa.logins.Load())
	assert.GreaterOrEqual(t, time.Since(start), MinRetryDelay)
}

func TestEnsureValidWithoutCredentials(t *testing.T) {
	fa := &fakeAuth{}
	m := NewManager(fa, newStore(t), Options{SessionID: "s1"})
	defer m.Close()

	_, err := m.EnsureValid(context.Background())
	var authErr *domain.AuthorizationError
	require.True(t, errors.As(err, &authErr))
	assert.Zero(t, fa.logins.Load())
}

func TestLoginCredentialsFromStore(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.SetString(secretstore.SessionKey("s1", keyLogin), "stored-user"))
	require.NoError(t, st.SetString(secretstore.SessionKey("s1", keyPassword), "stored-pass"))
	m := NewManager(&fakeAuth{}, st, Options{SessionID: "s1"})
	defer m.Close()

	login, password, err := m.loginCredentials()
	require.NoError(t, err)
	assert.Equal(t, "stored-user", login)
	assert.Equal(t, "stored-pass", password)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	fa := &fakeAuth{}
	m := newManager(t, fa, newStore(t))

	first, err := m.EnsureValid(context.Background())
	require.NoError(t, err)

	m.Invalidate()
	second, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Bearer(), second.Bearer())
	assert.Equal(t, int32(1), fa.refreshes.Load())
}

func TestEnsureValidCallerContextCanceled(t *testing.T) {
	fa := &fakeAuth{delay: 200 * time.Millisecond}
	m := newManager(t, fa, newStore(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.EnsureValid(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 在途刷新不受单个调用方取消影响
	cred, err := m.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.False(t, cred.IsZero())
	assert.Equal(t, int32(1), fa.logins.Load())
}

func TestRetryDelayFloor(t *testing.T) {
	m := NewManager(&fakeAuth{}, newStore(t), Options{RetryDelay: 10 * time.Millisecond})
	defer m.Close()
	assert.Equal(t, MinRetryDelay, m.opts.RetryDelay)
}
