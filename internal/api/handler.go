package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"metron-core/internal/broadcast"
	"metron-core/internal/engine"
	"metron-core/internal/monitor"
)

// Server wires HTTP endpoints around the engine facade.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	Latest  *broadcast.Latest
	Metrics *monitor.Metrics
	Auth    *Authenticator

	symbol string
	logger zerolog.Logger
}

// Options configure NewServer. Zero values take the defaults.
type Options struct {
	Engine  engine.Service
	Latest  *broadcast.Latest
	Metrics *monitor.Metrics
	Symbol  string

	JWTSecret   string
	OperatorKey string
	TokenTTL    time.Duration

	AllowedOrigins []string
	RateLimit      rate.Limit
	RateBurst      int
	RequestTimeout time.Duration

	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.TokenTTL <= 0 {
		o.TokenTTL = 12 * time.Hour
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 20
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 50
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	return o
}

func NewServer(opts Options) *Server {
	opts = opts.withDefaults()
	logger := opts.Logger.With().Str("component", "api").Logger()

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger, opts.Metrics))
	r.Use(RateLimitMiddleware(newIPLimiter(opts.RateLimit, opts.RateBurst), logger))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	s := &Server{
		Router:  r,
		Engine:  opts.Engine,
		Latest:  opts.Latest,
		Metrics: opts.Metrics,
		Auth:    NewAuthenticator(opts.JWTSecret, opts.OperatorKey, opts.TokenTTL),
		symbol:  opts.Symbol,
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.POST("/auth/token", s.issueToken)

		api.GET("/strategy", s.getStrategy)
		api.GET("/positions", s.getPositions)
		api.GET("/trades", s.getTrades)
		api.GET("/market-status", s.getMarketStatus)
		api.GET("/status", s.getStatus)

		// Mutating routes
		protected := api.Group("")
		protected.Use(s.Auth.Middleware())
		{
			protected.PUT("/strategy/mode", s.setStrategyMode)
			protected.PUT("/trading/config", s.configureTrading)
			protected.POST("/backtest", s.runBacktest)
			protected.POST("/ticks", s.injectTick)
			protected.POST("/analysis", s.runAnalysis)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	cfg.ExposeHeaders = []string{"X-Request-ID"}
	return cfg
}
