// Package server hosts the WebSocket listener remote sessions connect to,
// plus health and metrics endpoints.
package server

import (
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/frostdev-ops/uc-bridge-go/internal/config"
	"github.com/frostdev-ops/uc-bridge-go/internal/controller"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the remote-facing HTTP/WebSocket listener.
type Server struct {
	cfg    *config.Config
	ctrl   *controller.Controller
	log    *logrus.Logger
	router *gin.Engine
}

// New builds the listener with its routes.
func New(cfg *config.Config, ctrl *controller.Controller, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		log:    log,
		router: router,
	}

	router.GET("/ws", s.handleWebSocket)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"driver":  cfg.Integration.DriverID,
			"version": cfg.Integration.Version,
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Run starts the listener. When TLS is configured a second TLS listener is
// started alongside the plain one.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	if s.cfg.Server.TLS.Enabled {
		tlsAddr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.TLS.Port)
		go func() {
			s.log.WithField("addr", tlsAddr).Info("Starting TLS listener")
			if err := s.router.RunTLS(tlsAddr, s.cfg.Server.TLS.CertFile, s.cfg.Server.TLS.KeyFile); err != nil {
				s.log.WithError(err).Error("TLS listener failed")
			}
		}()
	}

	s.log.WithField("addr", addr).Info("Starting WebSocket listener")
	return s.router.Run(addr)
}

// handleWebSocket upgrades a remote connection and runs its session.
func (s *Server) handleWebSocket(c *gin.Context) {
	if token := s.cfg.Integration.AuthToken; token != "" {
		if c.GetHeader("auth-token") != token {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	session := newSession(uuid.New().String(), conn, s.ctrl, s.log)
	go session.run()
}
