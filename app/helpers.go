package app

import (
	"database/sql"
	"errors"
	"net/http"
	"os"
	"runtime"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/app/models"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/auth"
	"github.com/Jasonlaceyyy8638/my-silent-app-sub000/logger"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// converts string to a positive int
func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

// pagination reads ?limit= and ?offset=, falling back to defaults on bad input.
func pagination(c *gin.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := parsePositiveInt(c.Query("limit")); err == nil {
		limit = min(v, maxPageSize)
	}
	if v, err := parsePositiveInt(c.Query("offset")); err == nil {
		offset = v
	}
	return limit, offset
}

func GetWorkerCount() int {
	//default number of workers = number of cpus. Otherwise can be overwritten with WORKERS env var
	n := runtime.NumCPU()
	if v := os.Getenv("WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			n = parsed
		}
	}
	return n
}

// currentProfile loads the caller's profile, writing the error response
// itself when it cannot.
func currentProfile(c *gin.Context) (models.Profile, bool) {
	claims, ok := auth.ClaimsFromContext(c.Request.Context())
	if !ok || claims.Subject == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing auth context"})
		return models.Profile{}, false
	}
	if db == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db not initialized"})
		return models.Profile{}, false
	}

	p, err := getProfile(c.Request.Context(), claims.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		if err = EnsureProfileFromClaims(c.Request.Context(), claims); err == nil {
			p, err = getProfile(c.Request.Context(), claims.Subject)
		}
	}
	if err != nil {
		logger.Get().Error("failed to load profile", zap.String("user_id", claims.Subject), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load user"})
		return models.Profile{}, false
	}
	if p.DeletedAt != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "account deleted"})
		return models.Profile{}, false
	}
	return p, true
}
