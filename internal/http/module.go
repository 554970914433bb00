// Package http holds the composition types shared by the router and the
// modules that mount routes on it.
package http

import (
	"context"

	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// Module is a bounded context with its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext is what a module gets to mount on. Everything under
// Protected requires a service token with the automation role.
type RouterContext struct {
	Engine    *gin.Engine
	V1        *gin.RouterGroup
	Protected *gin.RouterGroup
	Config    config.JWTConfig
}

// RouterConfig is the slice of configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs /api/health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled in main and handed to router.New.
type App struct {
	Config  RouterConfig
	Logger  *logger.Logger
	Health  HealthChecker
	Modules []Module
}
