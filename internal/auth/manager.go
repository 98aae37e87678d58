// Package auth 管理会话访问令牌：单飞刷新、持久化、终止/临时错误分类
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/betbot/tradestream/internal/domain"
	"github.com/betbot/tradestream/internal/metrics"
	"github.com/betbot/tradestream/internal/venue"
	"github.com/betbot/tradestream/pkg/logger"
	"github.com/betbot/tradestream/pkg/secretstore"
)

// 认证服务错误码
const (
	CodeNoActiveSession    = "NO_ACTIVE_SESSION"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeBlocked            = "BLOCKED"
)

// 密钥库中的字段名（完整键为 session/<sessionID>/<name>）
const (
	keyAccess   = "access"
	keyRefresh  = "refresh"
	keyLogin    = "login"
	keyPassword = "password"
)

// MinRetryDelay 临时失败后重试间隔的下限
const MinRetryDelay = 1000 * time.Millisecond

const flightKey = "refresh"

// Authenticator 认证服务
type Authenticator interface {
	Login(ctx context.Context, login, password string) (*venue.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*venue.TokenPair, error)
}

// SecretStore 令牌与登录凭证存储
type SecretStore interface {
	GetString(key string) (string, bool, error)
	SetString(key string, val string) error
	Delete(key string) error
}

// Options Manager 配置
type Options struct {
	SessionID  string
	Login      string // 密钥库中没有登录凭证时的回退值
	Password   string
	RetryDelay time.Duration
	Now        func() time.Time
}

// Manager 令牌管理器：同一时刻最多一个刷新请求在途
type Manager struct {
	auth  Authenticator
	store SecretStore
	opts  Options
	log   *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	cred  Credential
	group singleflight.Group
}

func NewManager(auth Authenticator, store SecretStore, opts Options) *Manager {
	if opts.RetryDelay < MinRetryDelay {
		opts.RetryDelay = MinRetryDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		auth:   auth,
		store:  store,
		opts:   opts,
		log:    logger.Component("auth").WithField("session", opts.SessionID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close 停止正在进行的刷新重试
func (m *Manager) Close() {
	m.cancel()
}

// EnsureValid 返回有效凭证：
// - 持有的访问令牌未过期时直接返回，不访问网络；
// - 并发调用共享同一个在途刷新；
// - 终止性错误（*domain.AuthorizationError / *domain.BlockError）直接返回，其他错误按固定间隔无限重试。
func (m *Manager) EnsureValid(ctx context.Context) (Credential, error) {
	m.mu.RLock()
	cred := m.cred
	m.mu.RUnlock()
	if cred.accessValid(m.opts.Now()) {
		return cred, nil
	}

	ch := m.group.DoChan(flightKey, func() (interface{}, error) {
		return m.refreshLoop(m.ctx)
	})
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Credential{}, res.Err
		}
		return res.Val.(Credential), nil
	}
}

// Invalidate 丢弃当前持有的访问令牌（包括持久化的访问令牌），下次调用 EnsureValid 时重新刷新
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cred = Credential{}
	m.mu.Unlock()
	if err := m.store.Delete(m.key(keyAccess)); err != nil {
		m.log.WithError(err).Warn("清除访问令牌失败")
	}
}

func (m *Manager) key(name string) string {
	return secretstore.SessionKey(m.opts.SessionID, name)
}

func (m *Manager) refreshLoop(ctx context.Context) (Credential, error) {
	for attempt := 1; ; attempt++ {
		cred, err := m.refreshOnce(ctx)
		if err == nil {
			m.mu.Lock()
			m.cred = cred
			m.mu.Unlock()
			return cred, nil
		}
		if domain.IsTerminal(err) {
			m.log.WithError(err).Error("认证失败（终止）")
			return Credential{}, err
		}

		metrics.TokenRefreshErrors.Add(1)
		m.log.WithError(err).Warnf("令牌刷新失败，%v 后重试（第 %d 次）", m.opts.RetryDelay, attempt)

		timer := time.NewTimer(m.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Credential{}, errors.Wrap(ctx.Err(), "令牌刷新已取消")
		case <-timer.C:
		}
	}
}

// refreshOnce 执行一次完整的刷新流程：
// 持久化访问令牌 -> 刷新令牌换新 -> 账号密码完整认证
func (m *Manager) refreshOnce(ctx context.Context) (Credential, error) {
	now := m.opts.Now()

	access, err := m.loadToken(keyAccess)
	if err != nil {
		return Credential{}, err
	}
	refresh, err := m.loadToken(keyRefresh)
	if err != nil {
		return Credential{}, err
	}
	if access.valid(now) {
		return Credential{
			access:        access.Value,
			refresh:       refresh.Value,
			accessExpiry:  time.UnixMilli(access.ExpiresAt),
			refreshExpiry: time.UnixMilli(refresh.ExpiresAt),
		}, nil
	}

	var pair *venue.TokenPair
	if refresh.valid(now) {
		m.log.Debug("使用刷新令牌换取新令牌")
		pair, err = m.auth.Refresh(ctx, refresh.Value)
	} else {
		login, password, credErr := m.loginCredentials()
		if credErr != nil {
			return Credential{}, credErr
		}
		m.log.Info("刷新令牌已过期，执行完整认证")
		pair, err = m.auth.Login(ctx, login, password)
	}
	if err != nil {
		return Credential{}, m.classify(err)
	}

	metrics.TokenRefreshes.Add(1)
	if err := m.persist(pair); err != nil {
		return Credential{}, err
	}
	return Credential{
		access:        pair.AccessToken,
		refresh:       pair.RefreshToken,
		accessExpiry:  pair.AccessExpiry(),
		refreshExpiry: pair.RefreshExpiry(),
	}, nil
}

// classify 认证服务明确拒绝时清除持久化令牌，并映射为终止/临时错误
func (m *Manager) classify(err error) error {
	var rej *venue.RejectionError
	if !errors.As(err, &rej) {
		return errors.Wrap(err, "认证请求失败")
	}
	m.clear()
	switch rej.Code {
	case CodeNoActiveSession, CodeInvalidCredentials:
		return &domain.AuthorizationError{Code: rej.Code, Message: rej.Message}
	case CodeBlocked:
		return &domain.BlockError{Message: rej.Message}
	default:
		return errors.Wrap(err, "认证服务返回未知错误码")
	}
}

func (m *Manager) loginCredentials() (string, string, error) {
	login, _, err := m.store.GetString(m.key(keyLogin))
	if err != nil {
		return "", "", errors.Wrap(err, "读取登录凭证失败")
	}
	password, _, err := m.store.GetString(m.key(keyPassword))
	if err != nil {
		return "", "", errors.Wrap(err, "读取登录凭证失败")
	}
	if login == "" {
		login, password = m.opts.Login, m.opts.Password
	}
	if login == "" || password == "" {
		return "", "", &domain.AuthorizationError{Code: CodeInvalidCredentials, Message: "未配置登录凭证"}
	}
	return login, password, nil
}

func (m *Manager) loadToken(name string) (storedToken, error) {
	raw, ok, err := m.store.GetString(m.key(name))
	if err != nil {
		return storedToken{}, errors.Wrapf(err, "读取令牌 %s 失败", name)
	}
	if !ok || raw == "" {
		return storedToken{}, nil
	}
	t, err := decodeStoredToken(raw)
	if err != nil {
		// 损坏的值按不存在处理
		m.log.WithError(err).Warnf("令牌 %s 格式无效，已忽略", name)
		return storedToken{}, nil
	}
	return t, nil
}

func (m *Manager) persist(pair *venue.TokenPair) error {
	tokens := map[string]storedToken{
		keyAccess:  {Value: pair.AccessToken, ExpiresAt: pair.AccessExpiresAt},
		keyRefresh: {Value: pair.RefreshToken, ExpiresAt: pair.RefreshExpiresAt},
	}
	for name, tok := range tokens {
		raw, err := tok.encode()
		if err != nil {
			return errors.Wrapf(err, "编码令牌 %s 失败", name)
		}
		if err := m.store.SetString(m.key(name), raw); err != nil {
			return errors.Wrapf(err, "保存令牌 %s 失败", name)
		}
	}
	return nil
}

func (m *Manager) clear() {
	for _, name := range []string{keyAccess, keyRefresh} {
		if err := m.store.Delete(m.key(name)); err != nil {
			m.log.WithError(err).Warnf("清除令牌 %s 失败", name)
		}
	}
}
