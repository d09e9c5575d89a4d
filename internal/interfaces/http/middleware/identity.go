package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/erp/ingest/internal/domain/shared"
	"github.com/erp/ingest/internal/infrastructure/auth"
	"github.com/erp/ingest/internal/infrastructure/logger"
	"github.com/erp/ingest/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Identity headers and context keys
const (
	IdentityKey    = "identity"
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
)

// Identity is the authenticated caller of a request
type Identity struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Admin    bool
}

// IdentityConfig configures the identity middleware. With a nil JWTService
// the caller is read from the X-Tenant-ID and X-User-ID headers, which is
// only meant for trusted networks and development.
type IdentityConfig struct {
	JWTService *auth.JWTService
	SkipPaths  []string
	Logger     *zap.Logger
}

// RequireIdentity authenticates the caller and stores an Identity in the
// gin context. Requests without a usable identity are rejected with 401.
func RequireIdentity(cfg IdentityConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		if slices.Contains(cfg.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}

		var (
			id  Identity
			err error
		)
		if cfg.JWTService != nil {
			id, err = identityFromToken(cfg.JWTService, c.GetHeader(AuthHeaderKey))
		} else {
			id, err = identityFromHeaders(c)
		}
		if err != nil {
			log.Warn("Authentication failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			code, message := authErrorResponse(err)
			abortWithError(c, http.StatusUnauthorized, code, message)
			return
		}

		c.Set(IdentityKey, id)
		ctx := logger.WithTenantID(c.Request.Context(), id.TenantID.String())
		ctx = logger.WithUserID(ctx, id.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

var errMissingIdentity = errors.New("missing caller identity")

func identityFromToken(svc *auth.JWTService, header string) (Identity, error) {
	token, ok := strings.CutPrefix(header, BearerPrefix)
	if !ok || strings.TrimSpace(token) == "" {
		return Identity{}, errMissingIdentity
	}
	claims, err := svc.Validate(token)
	if err != nil {
		return Identity{}, err
	}
	tenantID, err := claims.TenantUUID()
	if err != nil {
		return Identity{}, auth.ErrInvalidClaims
	}
	userID, err := claims.UserUUID()
	if err != nil {
		return Identity{}, auth.ErrInvalidClaims
	}
	return Identity{TenantID: tenantID, UserID: userID, Admin: claims.Admin}, nil
}

func identityFromHeaders(c *gin.Context) (Identity, error) {
	rawTenant, rawUser := c.GetHeader(HeaderTenantID), c.GetHeader(HeaderUserID)
	if rawTenant == "" || rawUser == "" {
		return Identity{}, errMissingIdentity
	}
	tenantID, err := uuid.Parse(rawTenant)
	if err != nil {
		return Identity{}, auth.ErrInvalidClaims
	}
	userID, err := uuid.Parse(rawUser)
	if err != nil {
		return Identity{}, auth.ErrInvalidClaims
	}
	return Identity{TenantID: tenantID, UserID: userID}, nil
}

func authErrorResponse(err error) (string, string) {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, errMissingIdentity):
		return shared.CodeUnauthorized, "Authentication required"
	default:
		return dto.ErrCodeTokenInvalid, "Invalid credentials"
	}
}

// GetIdentity returns the caller stored by RequireIdentity
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}
