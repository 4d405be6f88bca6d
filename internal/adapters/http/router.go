package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/One2Many/internal/adapters/signal"
	"github.com/dkeye/One2Many/internal/app/orch"
	"github.com/dkeye/One2Many/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware gives every browser a stable token. The signed
// session wins over the plain "ct" cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get("client_token").(string)
		if token == "" {
			token, _ = c.Cookie("ct")
		}
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		if sess.Get("client_token") != token {
			sess.Set("client_token", token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Presenter   string `json:"presenter"`
	PresenterID string `json:"presenterId,omitempty"`
	Viewers     int    `json:"viewers"`
	Listeners   int    `json:"listeners"`
	Sessions    int    `json:"sessions"`
	Time        string `json:"time"`
}

func statusHandler(o *orch.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := o.Broadcast.Status()
		c.JSON(http.StatusOK, StatusResponse{
			Presenter:   st.State.String(),
			PresenterID: string(st.PresenterID),
			Viewers:     st.Viewers,
			Listeners:   o.Listeners.Len(),
			Sessions:    o.Registry.Len(),
			Time:        time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctrl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("One2ManySessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ws := func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	}
	r.GET("/one2many", ws)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/ws/signal", ws)
	api.GET("/status", statusHandler(ctrl.Orch))

	return r
}
