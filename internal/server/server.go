package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harmonycast/harmonycast/internal/application/config"
	"github.com/harmonycast/harmonycast/internal/application/constant"
	"github.com/harmonycast/harmonycast/internal/application/metric"
)

// New builds the HTTP port: websocket endpoint, health, room listing and
// metrics.
func New(cfg *config.Config, hub *Hub, log *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(slogLogger())

	e.GET("/ws", wsHandler(cfg, hub, log))
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/api/rooms", func(c echo.Context) error {
		return c.JSON(http.StatusOK, hub.Views())
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

func wsHandler(cfg *config.Config, hub *Hub, log *slog.Logger) echo.HandlerFunc {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return func(c echo.Context) error {
		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Error("websocket upgrade failed", slog.Any(constant.Error, err))
			return err
		}

		roomName := c.QueryParam("room")
		forceHost := c.QueryParam("force_host") != "" && c.QueryParam("force_host") != "0" ||
			c.QueryParam("role") == "host"

		room := hub.GetOrCreate(roomName)
		id := uuid.NewString()
		client := newWSClient(id, room, hub, ws, log)

		metric.IncrementWSActiveConnections()
		defer metric.DecrementWSActiveConnections()

		room.Add(id, "", c.RealIP(), client, forceHost)
		// Late-join catch-up before anything else.
		room.SendInit(id)
		room.BroadcastClients()

		client.run(cfg.Server.MaxMessageBytes)
		return nil
	}
}

func slogLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(
		middleware.RequestLoggerConfig{
			LogStatus: true,
			LogURI:    true,
			LogMethod: true,
			LogError:  true,

			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				level := slog.LevelInfo
				if v.Error != nil || v.Status >= http.StatusInternalServerError {
					level = slog.LevelError
				} else if v.Status >= http.StatusBadRequest {
					level = slog.LevelWarn
				}

				slog.LogAttrs(
					c.Request().Context(),
					level,
					"HTTP request",
					slog.Int("status", v.Status),
					slog.String("uri", v.URI),
					slog.String("method", v.Method),
				)

				return nil
			},
		},
	)
}
