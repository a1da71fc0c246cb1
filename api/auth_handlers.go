package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-tracker/domain"
)

func registerAuthRoutes(e *echo.Echo, d Deps) {
	g := e.Group("/api/auth", AuthRateLimitMiddleware(d.AuthRateLimit))
	g.POST("/register", registerUser(d.Accounts, d.Logger))
	g.POST("/login", loginUser(d.Accounts, d.Logger))
	e.GET("/api/auth/me", currentUser(d.Accounts, d.Auth, d.Logger))
}

func writeAccountError(c echo.Context, logger *log.Logger, op string, err error) error {
	if errors.Is(err, domain.ErrConflict) {
		return c.JSON(http.StatusConflict, messageResponse{Message: "Email is already registered"})
	}
	status, msg := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("op", op).Error("account request failed")
	}
	return c.JSON(status, messageResponse{Message: msg})
}

func registerUser(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req credentialsRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		}
		session, err := accounts.Register(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return writeAccountError(c, logger, "register", err)
		}
		logger.WithField("user", session.User.ID).Info("user registered")
		return c.JSON(http.StatusCreated, toSessionResponse(session))
	}
}

func loginUser(accounts Accounts, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req credentialsRequest
		if err := decodeBody(c, &req); err != nil {
			return c.JSON(http.StatusBadRequest, messageResponse{Message: "Invalid request body"})
		}
		session, err := accounts.Login(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return writeAccountError(c, logger, "login", err)
		}
		return c.JSON(http.StatusOK, toSessionResponse(session))
	}
}

func currentUser(accounts Accounts, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := authenticate(c, auth, nil)
		if !ok {
			return unauthorized(c)
		}
		u, err := accounts.CurrentUser(c.Request().Context(), userID)
		if err != nil {
			return writeAccountError(c, logger, "me", err)
		}
		return c.JSON(http.StatusOK, meResponse{User: toUserResponse(u)})
	}
}
