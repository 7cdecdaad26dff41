package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/MemberLedger/internal/models"
	"github.com/router-for-me/MemberLedger/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Context keys set by the auth middlewares.
const (
	MemberIDKey          = "memberID"
	MemberHandleKey      = "memberHandle"
	AdminIDKey           = "adminID"
	AdminUsernameKey     = "adminUsername"
	AdminPermissionsKey  = "adminPermissions"
	AdminIsSuperAdminKey = "adminIsSuperAdmin"
)

// MemberAuthMiddleware verifies member JWTs and loads the member id into context.
// Suspended members are refused.
func MemberAuthMiddleware(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}
		claims, errJWT := security.ParseMemberToken(secret, token)
		if errJWT != nil {
			abortTokenError(c, errJWT)
			return
		}

		var member models.Member
		errFind := db.WithContext(c.Request.Context()).Select("id", "handle", "status").Where("id = ?", claims.MemberID).Take(&member).Error
		if errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "member not found"})
				return
			}
			log.WithError(errFind).Error("member auth middleware error")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication service error"})
			return
		}
		if member.Status == models.MemberStatusSuspended {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "member suspended"})
			return
		}

		c.Set(MemberIDKey, member.ID)
		c.Set(MemberHandleKey, member.Handle)
		c.Next()
	}
}

// AdminAuthMiddleware verifies admin JWTs and stores the admin identity and
// permissions in context.
func AdminAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}
		claims, errJWT := security.ParseAdminToken(secret, token)
		if errJWT != nil {
			abortTokenError(c, errJWT)
			return
		}
		permissions := claims.Permissions
		if permissions == nil {
			permissions = []string{}
		}
		c.Set(AdminIDKey, claims.AdminID)
		c.Set(AdminUsernameKey, claims.Username)
		c.Set(AdminPermissionsKey, permissions)
		c.Set(AdminIsSuperAdminKey, claims.SuperAdmin)
		c.Next()
	}
}

// MemberID returns the authenticated member id or 0.
func MemberID(c *gin.Context) uint64 {
	val, exists := c.Get(MemberIDKey)
	if !exists {
		return 0
	}
	id, _ := val.(uint64)
	return id
}

// AdminUsername returns the authenticated admin username.
func AdminUsername(c *gin.Context) string {
	return c.GetString(AdminUsernameKey)
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
		return "", false
	}
	return token, true
}

func abortTokenError(c *gin.Context, err error) {
	if errors.Is(err, security.ErrExpiredToken) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
}
