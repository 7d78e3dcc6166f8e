package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clankerbot/clanker/automod/event"
	"github.com/clankerbot/clanker/automod/statestore"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

type Server struct {
	bot        *Bot
	echo       *echo.Echo
	httpd      *http.Server
	logger     *slog.Logger
	adminToken string
}

type ServerConfig struct {
	Logger *slog.Logger
	Bind   string
	// bearer token for admin endpoints; open when empty
	AdminToken string
	// HTTP metrics registry; prometheus.DefaultRegisterer when nil
	Registerer prometheus.Registerer
}

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func NewServer(bot *Bot, config ServerConfig) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()

	// httpd
	var (
		httpTimeout        = 1 * time.Minute
		httpMaxHeaderBytes = 1 * (1024 * 1024)
	)

	srv := &Server{
		bot:        bot,
		echo:       e,
		logger:     logger,
		adminToken: config.AdminToken,
	}
	srv.httpd = &http.Server{
		Handler:        srv,
		Addr:           config.Bind,
		WriteTimeout:   httpTimeout,
		ReadTimeout:    httpTimeout,
		MaxHeaderBytes: httpMaxHeaderBytes,
	}

	e.HideBanner = true
	e.Use(slogecho.New(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(otelecho.Middleware("clanker"))
	reg := config.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "clanker",
		Registerer: reg,
	}))
	e.HTTPErrorHandler = srv.errorHandler

	e.GET("/", srv.HandleHealthCheck)
	e.GET("/health", srv.HandleHealthCheck)
	e.POST("/webhook", srv.HandleWebhook)
	e.POST("/reset-count", srv.HandleResetCount, srv.requireAdminToken)

	return srv
}

func (srv *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	srv.echo.ServeHTTP(rw, req)
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context) error {
	srv.logger.Info("starting server", "bind", srv.httpd.Addr)
	errc := make(chan error, 1)
	go func() {
		if err := srv.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("HTTP server shutting down unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	srv.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.httpd.Shutdown(shutdownCtx)
}

// RunMetrics serves prometheus metrics on a separate listener until ctx is done.
func RunMetrics(ctx context.Context, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	httpd := &http.Server{Addr: listen, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpd.Shutdown(shutdownCtx)
	}()

	if err := httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}
	return nil
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var errorMessage string
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("clanker-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	_ = c.JSON(code, GenericStatus{Status: "error", Daemon: "clanker", Message: errorMessage})
}

// HandleWebhook receives the GroupMe bot callback. It always answers 200, so GroupMe never retries or disables the callback; failures are logged.
func (srv *Server) HandleWebhook(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		srv.logger.Warn("failed to read webhook body", "err", err)
		return c.NoContent(http.StatusOK)
	}
	var msg event.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		srv.logger.Warn("invalid webhook payload", "err", err)
		return c.NoContent(http.StatusOK)
	}

	// the moderation outcome must not depend on GroupMe holding the connection open
	ctx := context.WithoutCancel(c.Request().Context())
	if err := srv.bot.Engine.ProcessMessage(ctx, &msg); err != nil {
		srv.logger.Error("failed to process message", "message", msg.ID, "sender", msg.Sender(), "err", err)
	}
	return c.NoContent(http.StatusOK)
}

func truncateSecret(s string) string {
	if s == "" {
		return "MISSING"
	}
	if len(s) <= 8 {
		return s[:len(s)/2] + "..."
	}
	return s[:8] + "..."
}

type healthBanSystem struct {
	Enabled           bool   `json:"enabled"`
	Backend           string `json:"backend"`
	GroupID           string `json:"group_id"`
	BanServiceURL     string `json:"ban_service_url,omitempty"`
	InstantBanWords   int    `json:"instant_ban_words"`
	RegularSwearWords int    `json:"regular_swear_words"`
	BannedUsers       int    `json:"banned_users"`
	FormerMembers     int    `json:"former_members"`
	ActiveMutes       int    `json:"active_mutes"`
	QueuedBans        int    `json:"queued_bans"`
}

type healthStatus struct {
	Status          string          `json:"status"`
	Version         string          `json:"version"`
	BotID           string          `json:"bot_id"`
	StateStore      string          `json:"state_store"`
	RoutineDisabled bool            `json:"routine_disabled"`
	BanSystem       healthBanSystem `json:"ban_system"`
}

// HandleHealthCheck reports configuration (without secrets) and state sizes.
func (srv *Server) HandleHealthCheck(c echo.Context) error {
	ctx := c.Request().Context()
	bot := srv.bot
	eng := bot.Engine

	hs := healthStatus{
		Status:          "healthy",
		Version:         versioninfo.Short(),
		BotID:           truncateSecret(bot.BotID),
		StateStore:      bot.StoreKind,
		RoutineDisabled: eng.Messenger.RoutineDisabled(),
		BanSystem: healthBanSystem{
			Enabled:           eng.Config.MembershipConfigured || bot.BanServiceURL != "",
			Backend:           eng.Enforcer.Backend.Name(),
			BanServiceURL:     bot.BanServiceURL,
			InstantBanWords:   bot.Lexicons.InstantBan.Len(),
			RegularSwearWords: bot.Lexicons.Regular.Len(),
			ActiveMutes:       len(eng.Mutes.Active(ctx)),
			QueuedBans:        eng.Enforcer.Queue.Len(),
		},
	}
	if bot.Client != nil {
		hs.BanSystem.GroupID = bot.Client.GroupID
	}
	if bot.BotID == "" {
		hs.Status = "missing config"
	}

	bans, err := bot.Store.ListBans(ctx)
	if err != nil {
		srv.logger.Warn("health check: failed to read bans", "err", err)
		hs.Status = "degraded"
	}
	hs.BanSystem.BannedUsers = len(bans)
	former, err := bot.Store.ListFormerMembers(ctx)
	if err != nil {
		srv.logger.Warn("health check: failed to read former members", "err", err)
		hs.Status = "degraded"
	}
	hs.BanSystem.FormerMembers = len(former)

	return c.JSON(http.StatusOK, hs)
}

func (srv *Server) requireAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if srv.adminToken == "" {
			return next(c)
		}
		hdr := c.Request().Header.Get("Authorization")
		tok, ok := strings.CutPrefix(hdr, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(srv.adminToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing admin token")
		}
		return next(c)
	}
}

type resetCountRequest struct {
	UserID event.ID `json:"user_id"`
}

type resetCountResponse struct {
	Success  bool `json:"success"`
	OldCount int  `json:"old_count"`
	NewCount int  `json:"new_count"`
}

// HandleResetCount clears a user's warning count.
func (srv *Server) HandleResetCount(c echo.Context) error {
	ctx := c.Request().Context()
	var body resetCountRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	uid := body.UserID.String()
	if uid == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id required")
	}

	store := srv.bot.Store
	old, err := store.GetCount(ctx, statestore.CountSwears, uid)
	if err != nil {
		return fmt.Errorf("reading count: %w", err)
	}
	if err := store.ResetCount(ctx, statestore.CountSwears, uid); err != nil {
		return fmt.Errorf("resetting count: %w", err)
	}
	srv.logger.Info("warning count reset over HTTP", "user", uid, "old_count", old)
	return c.JSON(http.StatusOK, resetCountResponse{Success: true, OldCount: old, NewCount: 0})
}
