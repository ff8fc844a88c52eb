// Package server is the HTTP and websocket surface. It owns request
// decoding, auth enforcement and the mapping from error kinds to statuses;
// all business decisions live below it.
package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/jaewoo-rain/webide/pkg/auth"
	"github.com/jaewoo-rain/webide/pkg/broker"
	"github.com/jaewoo-rain/webide/pkg/config"
	"github.com/jaewoo-rain/webide/pkg/manager"
	"github.com/jaewoo-rain/webide/pkg/runner"
	"github.com/jaewoo-rain/webide/pkg/workspace"
)

// staticDir is served under /static when it exists next to the binary.
const staticDir = "static"

// Server wires the HTTP routes to the domain components.
type Server struct {
	Log          *logrus.Entry
	Config       *config.AppConfig
	Verifier     *auth.Verifier
	Manager      *manager.Manager
	Broker       *broker.Broker
	Runner       *runner.Runner
	Materializer *workspace.Materializer
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	if !s.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger(), corsAllowAll())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
		router.Static("/static", staticDir)
		router.GET("/", func(c *gin.Context) {
			c.File(filepath.Join(staticDir, "index.html"))
		})
	} else {
		router.GET("/", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"name": s.Config.Name, "version": s.Config.Version})
		})
	}

	// the websocket handshake carries no Authorization header from browsers,
	// so /ws authenticates by instance lookup inside the broker
	router.GET("/ws", gin.WrapF(s.Broker.Handle))

	authed := router.Group("/", s.requireAuth())
	{
		authed.GET("/me", s.me)
		authed.POST("/containers", s.provision)
		authed.GET("/containers/my", s.listMine)
		authed.GET("/containers/:id/urls", s.accessURLs)
		authed.DELETE("/containers/:id", s.teardown)
		authed.PATCH("/containers/:id", s.renameProject)
		authed.GET("/files/:id", s.readFiles)
		authed.POST("/save", s.save)
		authed.POST("/run", s.run)
		authed.PATCH("/files/:id", s.renamePath)
		authed.DELETE("/files/:id", s.deletePath)
	}

	return router
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	s.Log.WithField("addr", s.Config.Addr).Info("listening")
	return http.ListenAndServe(s.Config.Addr, s.Router())
}
