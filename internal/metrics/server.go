package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/betbot/tradestream/pkg/logger"
)

// View 调试快照来源（订单、持仓、会话状态等），返回值需可 JSON 序列化
type View func() any

// NewRouter 构建只读调试路由：
// - expvar: /debug/vars
// - pprof:  /debug/pprof
// - 快照:   /debug/views/:name
func NewRouter(views map[string]View) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	pp := r.Group("/debug/pprof")
	pp.GET("/", gin.WrapF(pprof.Index))
	pp.GET("/cmdline", gin.WrapF(pprof.Cmdline))
	pp.GET("/profile", gin.WrapF(pprof.Profile))
	pp.GET("/symbol", gin.WrapF(pprof.Symbol))
	pp.GET("/trace", gin.WrapF(pprof.Trace))

	r.GET("/debug/views", func(c *gin.Context) {
		names := make([]string, 0, len(views))
		for name := range views {
			names = append(names, name)
		}
		sort.Strings(names)
		c.JSON(http.StatusOK, gin.H{"views": names})
	})
	r.GET("/debug/views/:name", func(c *gin.Context) {
		view, ok := views[c.Param("name")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown view"})
			return
		}
		c.JSON(http.StatusOK, view())
	})
	return r
}

// StartAsync 启动调试服务（非阻塞），并在 ctx.Done() 时优雅关闭。
// 由调用方控制是否启用（建议仅监听 localhost 或内网）。
func StartAsync(ctx context.Context, listenAddr string, views map[string]View) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              listenAddr,
		Handler:           NewRouter(views),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go serve(s, ln)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	return s, nil
}

func serve(s *http.Server, ln net.Listener) {
	if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Component("metrics").WithError(err).Errorf("调试服务异常退出: %s", ln.Addr())
	}
}
