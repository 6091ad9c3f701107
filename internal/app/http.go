package app

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"form-gateway/internal/config"
	"form-gateway/internal/gatekeeper"
)

const contentSecurityPolicy = "default-src 'self'; style-src 'self' 'unsafe-inline'; " +
	"script-src 'self' 'unsafe-inline'; img-src 'self' data: https:"

type routes struct {
	pipeline    *gatekeeper.Pipeline
	concurrency func(http.Handler) http.Handler
	statusLimit func(http.Handler) http.Handler
}

func newRouter(cfg *config.Config, log logrus.FieldLogger, rt routes) *gin.Engine {
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(recovery(log))
	router.Use(securityHeaders())
	router.Use(corsPolicy(cfg.AllowedOriginList()))
	if rt.concurrency != nil {
		router.Use(wrap(rt.concurrency))
	}

	api := router.Group("/api")
	api.POST("/create-session", gin.WrapF(rt.pipeline.IssueSession))
	api.POST("/submit-form", gin.WrapF(rt.pipeline.SubmitForm))

	status := api.Group("")
	if rt.statusLimit != nil {
		status.Use(wrap(rt.statusLimit))
	}
	status.GET("/health", gin.WrapF(rt.pipeline.Health))
	status.GET("/security-status", gin.WrapF(rt.pipeline.SecurityStatus))

	root := router.Group("")
	if rt.statusLimit != nil {
		root.Use(wrap(rt.statusLimit))
	}
	root.GET("/health", gin.WrapF(rt.pipeline.Health))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Not found"})
	})
	return router
}

// wrap adapta um middleware net/http para o gin. Se o middleware já respondeu
// (bloqueio), a cadeia do gin é interrompida.
func wrap(mw func(http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c.Request = r
			c.Next()
		})

		mw(next).ServeHTTP(c.Writer, c.Request)

		if c.Writer.Written() {
			c.Abort()
		}
	}
}

// corsPolicy libera só as origens configuradas. Sem nenhuma, toda requisição
// de outra origem leva 403; a mesma origem passa.
func corsPolicy(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Session-Token"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(c)
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// recovery responde 500 em JSON genérico; o panic só aparece no log.
func recovery(log logrus.FieldLogger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		log.WithFields(logrus.Fields{
			"panic":  err,
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("handler panic")
		gatekeeper.WriteInternalError(c.Writer)
		c.Abort()
	})
}
