package middleware

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/shiran1989/magshimim-cyber-homework/internal/queue"
	"github.com/shiran1989/magshimim-cyber-homework/internal/timing"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/store"
)

type AppUser struct {
	UserID      string
	Role        string
	Permissions []string
}

// RunHistory is the part of timing.Recorder the API reads.
type RunHistory interface {
	RecentRuns(ctx context.Context, limit int) ([]timing.Run, error)
	PredictDuration(ctx context.Context) (time.Duration, error)
}

type App struct {
	Store store.PatternStorage
	Queue queue.Publisher
	Runs  RunHistory

	// KeyFunc verifies bearer JWTs. When nil only the master API key is
	// accepted.
	KeyFunc jwt.Keyfunc

	MasterAPIKey   string
	MasterUserID   string
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
