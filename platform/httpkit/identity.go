package httpkit

import (
	"slices"

	"github.com/gin-gonic/gin"
)

// Caller is the service or operator that invoked an endpoint, as established
// by ServiceTokenRequired.
type Caller interface {
	// Subject returns the token subject, e.g. "scheduler" or a dashboard user.
	Subject() string
	Roles() []string
	HasRole(role string) bool
	IsAuthenticated() bool
}

type caller struct {
	subject       string
	roles         []string
	authenticated bool
}

func (c *caller) Subject() string { return c.subject }

func (c *caller) Roles() []string { return c.roles }

func (c *caller) HasRole(role string) bool {
	return slices.Contains(c.roles, role)
}

func (c *caller) IsAuthenticated() bool { return c.authenticated }

// GetCaller extracts the Caller from a Gin context. When token checks are
// disabled the caller is anonymous and unauthenticated.
func GetCaller(c *gin.Context) Caller {
	subject := c.GetString(ContextSubjectKey)
	if subject == "" {
		return &caller{subject: "anonymous"}
	}

	var roles []string
	if value, ok := c.Get(ContextRolesKey); ok {
		roles, _ = value.([]string)
	}
	return &caller{subject: subject, roles: roles, authenticated: true}
}
