// Package stubapi is a local stand-in for the Conduit Identity and Content
// APIs, used by the end-to-end tests and the stubapi command.
package stubapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"conduit-client/internal/clock"
	"conduit-client/internal/domain"
	"conduit-client/internal/token"
)

const (
	defaultListLimit = 20
	userKey          = "stubapi.user"
)

// Config configures a Server. Zero fields take defaults.
type Config struct {
	DBPath     string
	Prefix     string
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
	Clock      clock.Clock
	Logger     *logrus.Logger
}

// Server owns the stub's storage and routes.
type Server struct {
	db       *sql.DB
	accounts *Accounts
	catalog  *Catalog
	issuer   *token.Issuer
	logger   *logrus.Logger
	router   *gin.Engine
}

func New(ctx context.Context, cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, fmt.Errorf("stub jwt secret is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "/api"
	}

	db, err := openDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	users := newUserRepository(db)
	if err := users.Init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init user repository: %w", err)
	}

	s := &Server{
		db:       db,
		accounts: newAccounts(users, cfg.BcryptCost),
		catalog:  NewCatalog(),
		issuer:   token.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL, cfg.Clock),
		logger:   logger,
	}

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.RegisterRoutes(s.router, prefix)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Catalog() *Catalog {
	return s.catalog
}

func (s *Server) Accounts() *Accounts {
	return s.accounts
}

func (s *Server) Issuer() *token.Issuer {
	return s.issuer
}

func (s *Server) Close() error {
	return s.db.Close()
}

func (s *Server) RegisterRoutes(router *gin.Engine, prefix string) {
	router.Use(corsMiddleware(), s.requestLogger())

	api := router.Group(prefix)
	{
		api.POST("/users/login", s.login)
		api.POST("/users", s.register)
		api.GET("/user", s.requireUser(), s.currentUser)
		api.PUT("/user", s.requireUser(), s.updateUser)
		api.GET("/articles", s.optionalUser(), s.listArticles)
		api.GET("/articles/feed", s.requireUser(), s.feed)
		api.GET("/tags", s.tags)
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger echoes the caller's X-Request-ID, minting one when absent,
// and logs each request once it completes.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)

		started := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"took":       time.Since(started),
		}).Debug("stub request")
	}
}

func writeErrors(c *gin.Context, status int, field string, messages ...string) {
	c.AbortWithStatusJSON(status, gin.H{"errors": gin.H{field: messages}})
}

// writeError maps service failures onto Conduit's error document.
func writeError(c *gin.Context, err error) {
	var fe *FieldError
	switch {
	case errors.As(err, &fe):
		writeErrors(c, http.StatusUnprocessableEntity, fe.Field, fe.Message)
	case errors.Is(err, ErrInvalidCredentials):
		writeErrors(c, http.StatusForbidden, "email or password", "is invalid")
	case errors.Is(err, ErrUserNotFound):
		writeErrors(c, http.StatusNotFound, "user", "not found")
	default:
		writeErrors(c, http.StatusInternalServerError, "server", err.Error())
	}
}

func bearer(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || raw == "" {
		return "", false
	}
	if !strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "Token") {
		return "", false
	}
	return strings.TrimSpace(raw), true
}

// authenticate resolves the request's token to a user. The bool reports
// whether a token was presented at all.
func (s *Server) authenticate(c *gin.Context) (*domain.User, bool, error) {
	raw, ok := bearer(c)
	if !ok {
		return nil, false, nil
	}
	claims, err := s.issuer.Verify(raw)
	if err != nil {
		return nil, true, err
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, true, fmt.Errorf("%w: bad subject", token.ErrInvalidToken)
	}
	user, err := s.accounts.GetByID(c.Request.Context(), id)
	if err != nil {
		return nil, true, err
	}
	return user, true, nil
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, presented, err := s.authenticate(c)
		switch {
		case !presented:
			writeErrors(c, http.StatusUnauthorized, "token", "is missing")
			return
		case err != nil:
			writeErrors(c, http.StatusUnauthorized, "token", "is invalid")
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// optionalUser attaches the user when a valid token is sent and otherwise
// serves the request anonymously.
func (s *Server) optionalUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, _, err := s.authenticate(c); err == nil && user != nil {
			c.Set(userKey, user)
		}
		c.Next()
	}
}

func userFrom(c *gin.Context) *domain.User {
	if v, ok := c.Get(userKey); ok {
		if u, ok := v.(*domain.User); ok {
			return u
		}
	}
	return nil
}

type credentialsRequest struct {
	User struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"user"`
}

type userResponse struct {
	User struct {
		domain.User
		Token string `json:"token"`
	} `json:"user"`
}

func (s *Server) respondWithUser(c *gin.Context, status int, user *domain.User) {
	tok, err := s.issuer.Issue(*user)
	if err != nil {
		writeError(c, err)
		return
	}
	var resp userResponse
	resp.User.User = *user
	resp.User.Token = tok
	c.JSON(status, resp)
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrors(c, http.StatusUnprocessableEntity, "body", "is invalid")
		return
	}
	user, err := s.accounts.Authenticate(c.Request.Context(), req.User.Email, req.User.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	s.respondWithUser(c, http.StatusOK, user)
}

func (s *Server) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrors(c, http.StatusUnprocessableEntity, "body", "is invalid")
		return
	}
	user, err := s.accounts.Register(c.Request.Context(), req.User.Username, req.User.Email, req.User.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	s.respondWithUser(c, http.StatusCreated, user)
}

func (s *Server) currentUser(c *gin.Context) {
	s.respondWithUser(c, http.StatusOK, userFrom(c))
}

func (s *Server) updateUser(c *gin.Context) {
	var req struct {
		User domain.UserUpdate `json:"user"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrors(c, http.StatusUnprocessableEntity, "body", "is invalid")
		return
	}
	user, err := s.accounts.Update(c.Request.Context(), userFrom(c).ID, req.User)
	if err != nil {
		writeError(c, err)
		return
	}
	s.respondWithUser(c, http.StatusOK, user)
}

// pageParams reads limit and offset; the bool is false once an error has
// been written.
func pageParams(c *gin.Context) (int, int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit < 0 {
		writeErrors(c, http.StatusUnprocessableEntity, "limit", "is invalid")
		return 0, 0, false
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		writeErrors(c, http.StatusUnprocessableEntity, "offset", "is invalid")
		return 0, 0, false
	}
	return limit, offset, true
}

type articlesResponse struct {
	Articles      []domain.Article `json:"articles"`
	ArticlesCount int              `json:"articlesCount"`
}

func (s *Server) listArticles(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	var following map[string]bool
	if user := userFrom(c); user != nil {
		var err error
		if following, err = s.accounts.Following(c.Request.Context(), user.ID); err != nil {
			writeError(c, err)
			return
		}
	}
	articles, total := s.catalog.List(listFilter{tag: c.Query("tag")}, limit, offset, following)
	c.JSON(http.StatusOK, articlesResponse{Articles: articles, ArticlesCount: total})
}

func (s *Server) feed(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	following, err := s.accounts.Following(c.Request.Context(), userFrom(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	articles, total := s.catalog.List(listFilter{authors: following}, limit, offset, following)
	c.JSON(http.StatusOK, articlesResponse{Articles: articles, ArticlesCount: total})
}

func (s *Server) tags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tags": s.catalog.Tags()})
}
