package statusapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/mirrorsync/mirrorsync/internal/sync"
	"github.com/mirrorsync/mirrorsync/internal/version"
)

func setupRoutes(mgr *sync.Manager) http.Handler {
	r := gin.New()

	rateLimitStore := memory.NewStore()
	rateLimiter := limiter.New(rateLimitStore, limiter.Rate{
		Period: 1 * time.Second,
		Limit:  10,
	})

	httpLogger := slog.Default().WithGroup("http")
	r.Use(slogGin.NewWithConfig(httpLogger, slogGin.Config{
		DefaultLevel:     slog.LevelDebug,
		ClientErrorLevel: slog.LevelWarn,
		ServerErrorLevel: slog.LevelError,
	}))
	r.Use(gin.Recovery())
	r.Use(cors.Default())
	r.Use(mgin.NewMiddleware(rateLimiter))

	h := newStatusHandler(mgr)

	r.GET("/", indexHandler)
	r.GET("/healthz", healthHandler)

	v1 := r.Group("/v1")
	{
		v1.GET("/status", h.Status)
		v1.GET("/conflicts", h.Conflicts)
		v1.GET("/state", h.State)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler()
}

func indexHandler(c *gin.Context) {
	c.String(http.StatusOK, version.DetailedWithApp())
}

func healthHandler(c *gin.Context) {
	c.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
