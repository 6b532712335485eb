// Package httpapi is the thin HTTP transport in front of the document
// services. It does request decoding, error mapping and nothing else.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dsslabs/docservice/internal/logging"
	"github.com/dsslabs/docservice/internal/server/services"
)

type Server struct {
	address    string
	engine     *gin.Engine
	documents  *services.DocumentService
	reconciler *services.Reconciler
	logger     logging.Logger
}

func NewServer(address string, logger logging.Logger, documents *services.DocumentService, reconciler *services.Reconciler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		address:    address,
		documents:  documents,
		reconciler: reconciler,
		logger:     logger.With("module", "httpapi"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	engine.Use(cors.New(corsConfig))

	s.registerRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	api := engine.Group("/api")

	api.POST("/adddocument/url", s.requestUploadGrant)
	api.POST("/adddocument/completed", s.storageCompleted)
	api.GET("/adddocument", s.listIntents)
	api.GET("/adddocument/:correlationId", s.getIntent)

	api.GET("/documents", s.listDocuments)
	api.GET("/documents/:correlationId/url", s.downloadURL)
	api.DELETE("/documents/:correlationId", s.deleteDocument)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.address,
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
