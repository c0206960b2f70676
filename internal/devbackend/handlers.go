package devbackend

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/takutakahashi/portalgate/internal/domain/entities"
)

const claimsKey = "claims"

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func tokenNotValid(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"detail": "Token is invalid or expired",
		"code":   "token_not_valid",
	})
}

// requireAccess checks the bearer access token and stores its claims in the context
func (s *Server) requireAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || len(auth) == len(prefix) {
			return detail(c, http.StatusUnauthorized, "Authentication credentials were not provided.")
		}

		claims, err := s.tokens.verify(strings.TrimSpace(auth[len(prefix):]), tokenTypeAccess)
		if err != nil {
			s.logger.Debug("rejected access token", "error", err)
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"detail": "Given token not valid for any token type",
				"code":   "token_not_valid",
			})
		}

		c.Set(claimsKey, claims)
		return next(c)
	}
}

func currentClaims(c echo.Context) *tokenClaims {
	claims, _ := c.Get(claimsKey).(*tokenClaims)
	return claims
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleToken(c echo.Context) error {
	s.loginCalls.Add(1)

	var req tokenRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "Malformed request body.")
	}

	missing := map[string][]string{}
	if req.Username == "" {
		missing["username"] = []string{"This field is required."}
	}
	if req.Password == "" {
		missing["password"] = []string{"This field is required."}
	}
	if len(missing) > 0 {
		return c.JSON(http.StatusBadRequest, missing)
	}

	user, err := s.users.authenticate(req.Username, req.Password)
	if err != nil {
		s.logger.Info("login rejected", "username", req.Username)
		return detail(c, http.StatusUnauthorized, "No active account found with the given credentials")
	}

	cred, err := s.tokens.pair(user)
	if err != nil {
		return err
	}

	s.logger.Info("login", "username", user.Username, "role", user.Role)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"access":  cred.AccessToken,
		"refresh": cred.RefreshToken,
		"user":    user,
	})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (s *Server) handleRefresh(c echo.Context) error {
	s.refreshCalls.Add(1)

	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.Refresh == "" {
		return c.JSON(http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
	}

	claims, err := s.tokens.verify(req.Refresh, tokenTypeRefresh)
	if err != nil {
		s.logger.Debug("rejected refresh token", "error", err)
		return tokenNotValid(c)
	}

	user, ok := s.users.get(claims.Username)
	if !ok {
		return tokenNotValid(c)
	}

	access, _, err := s.tokens.issue(user, tokenTypeAccess)
	if err != nil {
		return err
	}
	reply := map[string]string{"access": access}

	if s.rotate {
		refresh, _, err := s.tokens.issue(user, tokenTypeRefresh)
		if err != nil {
			return err
		}
		s.tokens.revoke(claims)
		reply["refresh"] = refresh
	}

	return c.JSON(http.StatusOK, reply)
}

func (s *Server) handleMe(c echo.Context) error {
	s.meCalls.Add(1)

	user, ok := s.users.get(currentClaims(c).Username)
	if !ok {
		return detail(c, http.StatusNotFound, "User not found.")
	}
	return c.JSON(http.StatusOK, user)
}

type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	UserType  string `json:"user_type"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return detail(c, http.StatusBadRequest, "Malformed request body.")
	}

	fieldErrors := map[string][]string{}
	if strings.TrimSpace(req.Username) == "" {
		fieldErrors["username"] = []string{"This field is required."}
	}
	if req.Password == "" {
		fieldErrors["password"] = []string{"This field is required."}
	}
	role, err := entities.ParseRole(req.UserType)
	if err != nil {
		fieldErrors["user_type"] = []string{"\"" + req.UserType + "\" is not a valid choice."}
	}
	if len(fieldErrors) > 0 {
		return c.JSON(http.StatusBadRequest, fieldErrors)
	}

	user, err := s.users.create(entities.User{
		Username:  strings.TrimSpace(req.Username),
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
	}, req.Password)
	if errors.Is(err, errUserExists) {
		return c.JSON(http.StatusBadRequest, map[string][]string{"username": {"A user with that username already exists."}})
	}
	if err != nil {
		return err
	}

	s.logger.Info("registered user", "username", user.Username, "role", user.Role)
	return c.JSON(http.StatusCreated, user)
}

func (s *Server) handleLogout(c echo.Context) error {
	s.logoutCalls.Add(1)

	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.Refresh == "" {
		return c.JSON(http.StatusBadRequest, map[string][]string{"refresh": {"This field is required."}})
	}

	claims, err := s.tokens.verify(req.Refresh, tokenTypeRefresh)
	if err != nil || claims.Subject != currentClaims(c).Subject {
		return tokenNotValid(c)
	}

	s.tokens.revoke(claims)
	return c.NoContent(http.StatusResetContent)
}

func (s *Server) handleStats(c echo.Context) error {
	claims := currentClaims(c)

	byRole := map[string]int{}
	for role, n := range s.users.countByRole() {
		byRole[string(role)] = n
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"viewer":        claims.Username,
		"role":          claims.Role,
		"users_by_role": byRole,
	})
}
