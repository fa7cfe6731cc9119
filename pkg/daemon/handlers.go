package daemon

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mennotech/win-auto-shutdown/pkg/config"
	"github.com/mennotech/win-auto-shutdown/pkg/events"
	"github.com/mennotech/win-auto-shutdown/pkg/version"
)

func setupRoutes(board *StatusBoard, hub *events.EventHub, conf config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", getStatus(board))
	router.GET("/config", getConfig(conf))
	router.GET("/version", getVersion)
	router.GET("/events", streamEvents(hub))

	return router
}

func getStatus(board *StatusBoard) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.IndentedJSON(http.StatusOK, board.Get())
	}
}

func getConfig(conf config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.IndentedJSON(http.StatusOK, conf)
	}
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

// streamEvents relays hub events as server-sent events until the client
// goes away or the hub is closed.
func streamEvents(hub *events.EventHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)
		c.Writer.Flush()

		c.Stream(func(_ io.Writer) bool {
			select {
			case ev, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(ev.Name, string(ev.Data))
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	}
}
