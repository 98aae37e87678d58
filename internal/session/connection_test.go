package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/tradestream/internal/auth"
	"github.com/betbot/tradestream/internal/catalog"
	"github.com/betbot/tradestream/internal/datum"
	"github.com/betbot/tradestream/internal/domain"
)

// fakeServer 记录每个连接收到的帧
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	ready    bool // 收到握手后发送 t:12
	upgrades atomic.Int32

	mu     sync.Mutex
	conns  []*serverConn
	bearer []string
}

type serverConn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	frames []inFrame
}

func (sc *serverConn) write(v any) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.ws.WriteJSON(v)
}

func (sc *serverConn) received(tag int) []inFrame {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	var out []inFrame
	for _, f := range sc.frames {
		if f.T == tag {
			out = append(out, f)
		}
	}
	return out
}

func newFakeServer(t *testing.T, ready bool) *fakeServer {
	fs := &fakeServer{t: t, ready: ready}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{ws: ws}
		fs.mu.Lock()
		fs.conns = append(fs.conns, sc)
		fs.bearer = append(fs.bearer, r.Header.Get("Authorization"))
		fs.mu.Unlock()
		fs.upgrades.Add(1)

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var f inFrame
			if json.Unmarshal(data, &f) != nil {
				continue
			}
			sc.mu.Lock()
			sc.frames = append(sc.frames, f)
			sc.mu.Unlock()
			if f.T == TagHandshake && fs.ready {
				_ = sc.write(map[string]int{"t": TagReady})
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) conn(i int) *serverConn {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if i >= len(fs.conns) {
		return nil
	}
	return fs.conns[i]
}

func (fs *fakeServer) waitConn(i int) *serverConn {
	fs.t.Helper()
	var sc *serverConn
	require.Eventually(fs.t, func() bool {
		sc = fs.conn(i)
		return sc != nil
	}, 5*time.Second, 5*time.Millisecond)
	return sc
}

func (fs *fakeServer) push(i int, sub int, payload any) {
	fs.t.Helper()
	p, err := json.Marshal(payload)
	require.NoError(fs.t, err)
	require.NoError(fs.t, fs.waitConn(i).write(map[string]any{
		"t": TagData,
		"d": dataPayload{I: sub, P: p},
	}))
}

type fakeTokens struct {
	calls               atomic.Int32
	invalidations       atomic.Int32
	failAfterInvalidate error
}

func (f *fakeTokens) EnsureValid(ctx context.Context) (auth.Credential, error) {
	f.calls.Add(1)
	if f.failAfterInvalidate != nil && f.invalidations.Load() > 0 {
		return auth.Credential{}, f.failAfterInvalidate
	}
	return auth.NewCredential("tok", "ref", time.Now().Add(time.Hour), time.Now().Add(24*time.Hour)), nil
}

func (f *fakeTokens) Invalidate() { f.invalidations.Add(1) }

func newSinks() Sinks {
	reg := catalog.NewRegistry(domain.Instrument{SymbolID: "100", Lot: 10})
	return Sinks{
		Orders:    datum.NewOrderStore(reg),
		Positions: datum.NewPositionStore(reg, 10*time.Millisecond),
		Timeline:  datum.NewTimelineStore(reg, datum.DefaultCommissionRate),
	}
}

func newConn(t *testing.T, fs *fakeServer, tokens TokenSource, opts Options) (*Connection, Sinks) {
	t.Helper()
	opts.URL = fs.url()
	sinks := newSinks()
	c := NewConnection(opts, tokens, sinks)
	t.Cleanup(func() {
		_ = c.Close()
		sinks.Positions.Close()
	})
	return c, sinks
}

// TestConnectSingleFlight N 个并发 Connect 只建立一个连接
func TestConnectSingleFlight(t *testing.T) {
	fs := newFakeServer(t, false)
	c, _ := newConn(t, fs, &fakeTokens{}, Options{})

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Connect(context.Background(), false)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, int32(1), fs.upgrades.Load())

	sc := fs.waitConn(0)
	require.Eventually(t, func() bool { return len(sc.received(TagHandshake)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sc.received(TagSubscribe), "首次连接等待服务端就绪后再订阅")
	fs.mu.Lock()
	assert.Equal(t, "Bearer tok", fs.bearer[0])
	fs.mu.Unlock()

	require.NoError(t, c.Connect(context.Background(), false))
	assert.Equal(t, int32(1), fs.upgrades.Load())
}

var hex16 = regexp.MustCompile(`^[0-9a-f]{16}$`)

// TestSubscribeOnReady 收到 t:12 后发送五个订阅，每个带令牌和追踪 ID
func TestSubscribeOnReady(t *testing.T) {
	fs := newFakeServer(t, true)
	tokens := &fakeTokens{}
	c, _ := newConn(t, fs, tokens, Options{})
	require.NoError(t, c.Connect(context.Background(), false))

	sc := fs.waitConn(0)
	require.Eventually(t, func() bool { return len(sc.received(TagSubscribe)) == 5 }, 2*time.Second, 5*time.Millisecond)

	for i, f := range sc.received(TagSubscribe) {
		var req subscribeRequest
		require.NoError(t, json.Unmarshal(f.D, &req))
		assert.Equal(t, Subscriptions[i].ID, req.ID)
		assert.Equal(t, Subscriptions[i].Topic, req.Topic)
		assert.Equal(t, "tok", req.Token)
		assert.Regexp(t, hex16, req.TraceID)
		assert.Regexp(t, hex16, req.SpanID)
		assert.NotEqual(t, req.TraceID, req.SpanID)
	}
	// Connect 一次 + 每条订阅一次
	assert.GreaterOrEqual(t, tokens.calls.Load(), int32(6))
}

// TestReconnectResubscribesOnce 断线重连后恰好发送一组订阅
func TestReconnectResubscribesOnce(t *testing.T) {
	fs := newFakeServer(t, true)
	tokens := &fakeTokens{}
	c, _ := newConn(t, fs, tokens, Options{})
	require.NoError(t, c.Connect(context.Background(), false))

	first := fs.waitConn(0)
	require.Eventually(t, func() bool { return len(first.received(TagSubscribe)) == 5 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, first.ws.Close())

	second := fs.waitConn(1)
	require.Eventually(t, func() bool { return len(second.received(TagSubscribe)) == 5 }, 3*time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, second.received(TagSubscribe), 5)
	assert.Equal(t, StateOpen, c.State())
	assert.GreaterOrEqual(t, tokens.invalidations.Load(), int32(1))
	assert.Equal(t, int32(2), fs.upgrades.Load())
}

// TestReconnectSkippedWhenAlreadyOpen 退避期间连接已被外部 Connect 恢复时不再建立第二个连接
func TestReconnectSkippedWhenAlreadyOpen(t *testing.T) {
	fs := newFakeServer(t, false)
	tokens := &fakeTokens{}
	c, _ := newConn(t, fs, tokens, Options{})
	require.NoError(t, c.Connect(context.Background(), false))

	require.NoError(t, fs.waitConn(0).ws.Close())
	require.Eventually(t, func() bool { return c.State() == StateDisconnected }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Connect(context.Background(), false))
	fs.waitConn(1)

	time.Sleep(MinReconnectDelay + 300*time.Millisecond)
	assert.Equal(t, int32(2), fs.upgrades.Load())
	assert.Equal(t, int32(0), tokens.invalidations.Load())
	assert.Equal(t, StateOpen, c.State())
}

// TestRoutesDataFrames 按订阅 ID 分发数据，成交按时间升序写入
func TestRoutesDataFrames(t *testing.T) {
	fs := newFakeServer(t, false)
	c, sinks := newConn(t, fs, &fakeTokens{}, Options{})
	require.NoError(t, c.Connect(context.Background(), false))

	var mu sync.Mutex
	var moments []int64
	sinks.Timeline.Subscribe(datum.Filter{}, func(v datum.TradeView) {
		mu.Lock()
		moments = append(moments, v.Moment)
		mu.Unlock()
	})

	fs.push(0, SubPendingOrders, []domain.OrderRecord{{OrderID: "o1", SymbolID: "100", Type: domain.OrderTypeLimit, Status: "NEW", Qty: 20}})
	fs.push(0, SubCompletedOrders, []domain.OrderRecord{{OrderID: "o2", SymbolID: "100", Status: "FILLED", Qty: 10, Filled: 10}})
	fs.push(0, SubPositions, []domain.PositionRecord{{SymbolID: "100", Qty: 30, NetRealizedPnl: 500000000}})
	fs.push(0, SubBalance, map[string]any{
		"balance":            map[string]any{"currency": "RUB", "amount": 1000},
		"marginBuyingPower":  5000,
		"marginSellingPower": 4000,
	})
	fs.push(0, SubExecutions, []domain.TradeRecord{
		{OrderID: "o2", SymbolID: "100", Moment: 3000, Side: domain.SideBuy, Qty: 1, Price: 1},
		{OrderID: "o2", SymbolID: "100", Moment: 1000, Side: domain.SideBuy, Qty: 1, Price: 1},
		{OrderID: "o2", SymbolID: "100", Moment: 2000, Side: domain.SideBuy, Qty: 1, Price: 1},
	})

	require.Eventually(t, func() bool { return sinks.Timeline.Len() == 3 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int64{1000, 2000, 3000}, moments)
	mu.Unlock()

	assert.Equal(t, 2, sinks.Orders.Len())
	o2, ok := sinks.Orders.Get("o2")
	require.True(t, ok)
	assert.Equal(t, domain.OrderStatusFilled, o2.Resolved)

	bal, ok := sinks.Positions.Get("RUB")
	require.True(t, ok)
	assert.Equal(t, "1005", bal.Size.String())

	assert.Equal(t, 5000.0, c.MarginBuyingPower())
	assert.Equal(t, 4000.0, c.MarginSellingPower())
	select {
	case <-c.Estimates():
	case <-time.After(time.Second):
		t.Fatal("没有收到保证金更新通知")
	}
	emitted, coalesced := c.EstimateSignals()
	assert.GreaterOrEqual(t, emitted, int64(1))
	assert.LessOrEqual(t, coalesced, emitted)
}

func TestHeartbeat(t *testing.T) {
	fs := newFakeServer(t, false)
	c, _ := newConn(t, fs, &fakeTokens{}, Options{HeartbeatInterval: 20 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background(), false))

	sc := fs.waitConn(0)
	require.Eventually(t, func() bool { return len(sc.received(TagHeartbeat)) >= 2 }, 2*time.Second, 5*time.Millisecond)
}

// TestTerminalAuthStopsReconnect 重连时认证终止性失败：上报错误且不再重连
func TestTerminalAuthStopsReconnect(t *testing.T) {
	fs := newFakeServer(t, false)
	tokens := &fakeTokens{failAfterInvalidate: &domain.AuthorizationError{Code: "NO_ACTIVE_SESSION"}}
	c, _ := newConn(t, fs, tokens, Options{})
	require.NoError(t, c.Connect(context.Background(), false))

	require.NoError(t, fs.waitConn(0).ws.Close())

	select {
	case err := <-c.Errors():
		assert.True(t, domain.IsTerminal(err))
	case <-time.After(5 * time.Second):
		t.Fatal("没有收到终止性错误")
	}
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, int32(1), fs.upgrades.Load())
}

func TestCloseStopsReconnect(t *testing.T) {
	fs := newFakeServer(t, false)
	c, _ := newConn(t, fs, &fakeTokens{}, Options{})
	require.NoError(t, c.Connect(context.Background(), false))
	fs.waitConn(0)

	require.NoError(t, c.Close())
	assert.Equal(t, StateDisconnected, c.State())
	assert.ErrorIs(t, c.Connect(context.Background(), false), ErrClosed)

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, int32(1), fs.upgrades.Load())
}

func TestReconnectDelayFloor(t *testing.T) {
	c := NewConnection(Options{ReconnectDelay: time.Millisecond}, &fakeTokens{}, newSinks())
	defer c.Close()
	assert.Equal(t, MinReconnectDelay, c.opts.ReconnectDelay)
	assert.Equal(t, DefaultHeartbeatInterval, c.opts.HeartbeatInterval)
	assert.Equal(t, "disconnected", c.State().String())
}
