// Package http exposes the engine to local callers over a REST API.
package http

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nestwork/liveroom/internal/app"
	"github.com/nestwork/liveroom/internal/config"
)

// ClientTokenMiddleware tags each caller with a stable cookie token so
// logs can correlate requests from the same client.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, engine *app.Engine) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("LiveRoomSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &Handler{Engine: engine}

	api := r.Group("/api")
	{
		rooms := api.Group("/rooms")
		{
			rooms.GET("", h.ListRooms)
			rooms.POST("", h.CreateRoom)
			rooms.POST("/resolve", h.ResolveRoom)
			rooms.POST("/:addr/open", h.OpenRoom)
			rooms.GET("/:addr/roster", h.Roster)
			rooms.POST("/:addr/live", h.GoLive)
			rooms.POST("/:addr/end", h.EndRoom)
			rooms.POST("/:addr/permissions", h.UpdatePermissions)
			rooms.POST("/:addr/recording", h.StartRecording)
			rooms.GET("/:addr/recording", h.ListRecordings)
			rooms.GET("/:addr/recording/:id", h.DownloadRecording)
			rooms.PATCH("/:addr/recording/:id", h.StopRecording)
			rooms.DELETE("/:addr/recording/:id", h.DeleteRecording)
		}
		sess := api.Group("/session")
		{
			sess.GET("", h.SessionState)
			sess.POST("/connect", h.Connect)
			sess.POST("/leave", h.Leave)
			sess.POST("/mute", h.Mute)
			sess.POST("/hand", h.RaiseHand)
		}
		api.GET("/discover", h.Discover)
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
