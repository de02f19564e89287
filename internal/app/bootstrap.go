package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tournaments-backend/internal/auth"
	"tournaments-backend/internal/config"
	"tournaments-backend/internal/db"
	"tournaments-backend/internal/maintenance"
	"tournaments-backend/internal/media"
	"tournaments-backend/internal/observability"
	"tournaments-backend/internal/registration"
	"tournaments-backend/internal/team"
	"tournaments-backend/internal/tournament"
)

type Options struct {
	LoadDotEnv bool
	// ForceMigrations runs migrations even when RUN_MIGRATIONS_ON_STARTUP is off.
	ForceMigrations bool
	Release         string
}

type Runtime struct {
	Config  config.Config
	Logger  *observability.Logger
	Handler http.Handler
	Close   func() error
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg, err := config.Load(config.Options{LoadDotEnv: options.LoadDotEnv})
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, options.Release); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime(),
		ConnMaxIdleTime: cfg.ConnMaxIdleTime(),
	})
	if err != nil {
		return nil, err
	}

	if options.ForceMigrations || cfg.RunMigrationsOnStartup {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
		logger.Info("migrations_applied", nil)
	}

	clientIPs, err := auth.NewClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init client ip resolver: %w", err)
	}

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.JWTRefreshSecret,
		auth.WithTTLs(cfg.AccessTokenTTL(), cfg.RefreshTokenTTL()),
	)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init token signer: %w", err)
	}

	users := auth.NewPostgresUserStore(database)
	ledger := auth.NewPostgresLedger(database)
	authService := auth.NewService(users, ledger, signer,
		auth.WithHasher(auth.NewBcryptHasher(cfg.BcryptCost)),
	)

	if err := authService.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	if cfg.AdminEmail != "" {
		logger.Info("admin_bootstrapped", map[string]any{"email": cfg.AdminEmail})
	}

	var avatars media.AvatarUploader
	if cfg.CloudinaryURL != "" {
		cloudinary, err := media.NewCloudinary(cfg.CloudinaryURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		avatars = cloudinary
	}

	var limiter auth.Limiter
	switch cfg.RateLimitBackend {
	case "postgres":
		limiter = auth.NewPostgresLimiter(database, cfg.RateLimitMax, cfg.RateLimitWindow())
	default:
		limiter = auth.NewMemoryLimiter(cfg.RateLimitMax, cfg.RateLimitWindow())
	}

	metrics := observability.NewMetrics()

	handler := NewRouter(Dependencies{
		Logger:        logger,
		Metrics:       metrics,
		AuthService:   authService,
		Limiter:       limiter,
		ClientIPs:     clientIPs,
		Players:       users,
		Tournaments:   tournament.NewRepository(database),
		Teams:         team.NewRepository(database),
		Registrations: registration.NewRepository(database),
		Avatars:       avatars,
		Cleanup: maintenance.NewCleanupHandler(
			auth.NewHousekeeping(database, ledger),
			logger,
			cfg.CronSecret,
			cfg.RateLimitRetention(),
			cfg.CleanupBatchSize,
		),
		Health:      database,
		CORSOrigins: cfg.CORSOrigins,
	})

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies feeds NewRouter. Nil Teams, Registrations, Players or Cleanup
// leave their routes unmounted.
type Dependencies struct {
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	AuthService   *auth.Service
	Limiter       auth.Limiter
	ClientIPs     *auth.ClientIPResolver
	Players       auth.PlayerDirectory
	Tournaments   tournament.Store
	Teams         team.Store
	Registrations registration.Store
	Avatars       media.AvatarUploader
	Cleanup       *maintenance.CleanupHandler
	Health        Pinger
	CORSOrigins   []string
}

func NewRouter(deps Dependencies) http.Handler {
	authHandler := auth.NewHandler(deps.AuthService,
		auth.WithEventRecorder(deps.Metrics),
		auth.WithClientIPResolver(deps.ClientIPs),
	)
	tournamentHandler := tournament.NewHandler(deps.Tournaments)
	avatarHandler := media.NewAvatarHandler(deps.Avatars, deps.AuthService)

	authenticated := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAccess(deps.AuthService, h)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAccess(deps.AuthService, auth.RequireRole(auth.RoleAdmin)(h))
	}
	coachOnly := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAccess(deps.AuthService, auth.RequireRole(auth.RoleCoach, auth.RoleAdmin)(h))
	}
	limited := func(scope string, h http.HandlerFunc) http.Handler {
		if deps.Limiter == nil {
			return h
		}
		return auth.RateLimitMiddleware(deps.Limiter, deps.ClientIPs, scope, h)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /auth/register", limited("register", authHandler.Register))
	mux.Handle("POST /auth/login", limited("login", authHandler.Login))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.HandleFunc("POST /auth/logout-all", authHandler.LogoutAll)
	mux.Handle("GET /auth/me", authenticated(authHandler.Me))
	mux.Handle("PUT /auth/me/password", authenticated(authHandler.ChangePassword))
	mux.Handle("POST /auth/me/avatar", authenticated(avatarHandler.Upload))

	mux.HandleFunc("GET /tournaments", tournamentHandler.List)
	mux.HandleFunc("GET /tournaments/{id}", tournamentHandler.Get)
	mux.Handle("POST /tournaments", adminOnly(tournamentHandler.Create))
	mux.Handle("PUT /tournaments/{id}", adminOnly(tournamentHandler.Update))
	mux.Handle("DELETE /tournaments/{id}", adminOnly(tournamentHandler.Delete))
	mux.Handle("DELETE /admin/tournaments/end/{id}", adminOnly(tournamentHandler.End))

	if deps.Registrations != nil {
		registrations := registration.NewHandler(deps.Registrations)
		mux.Handle("POST /tournaments/{id}/register", authenticated(registrations.Register))
		mux.Handle("GET /tournaments/{id}/coach/{coach_id}/eligible-teams", authenticated(registrations.EligibleTeams))
		mux.Handle("GET /admin/registrations", adminOnly(registrations.List))
		mux.Handle("PUT /admin/registrations/{id}/review", adminOnly(registrations.Review))
		mux.Handle("PUT /admin/participants/{id}/status", adminOnly(registrations.Review))
		mux.Handle("POST /admin/tournaments/{id}/participants", adminOnly(registrations.AddParticipant))
	}

	if deps.Teams != nil {
		teams := team.NewHandler(deps.Teams)
		mux.Handle("POST /coach/teams", coachOnly(teams.CreateOwn))
		mux.Handle("GET /coach/teams", coachOnly(teams.ListOwn))
		mux.Handle("POST /coach/teams/{id}/players", coachOnly(teams.AddPlayer))
		mux.Handle("GET /admin/teams", adminOnly(teams.List))
		mux.Handle("GET /admin/teams/{id}", adminOnly(teams.Get))
		mux.Handle("PUT /admin/teams/{id}", adminOnly(teams.Update))
		mux.Handle("DELETE /admin/teams/{id}", adminOnly(teams.Delete))
		mux.Handle("POST /admin/teams/{id}/members", adminOnly(teams.AddMember))
		mux.Handle("DELETE /admin/teams/{id}/members/{user_id}", adminOnly(teams.RemoveMember))
		mux.Handle("PUT /admin/teams/{id}/members/{user_id}/status", adminOnly(teams.SetMemberStatus))
	}

	if deps.Players != nil {
		players := auth.NewAdminHandler(deps.AuthService, deps.Players)
		mux.Handle("GET /admin/players", adminOnly(players.ListPlayers))
		mux.Handle("GET /admin/players/{id}", adminOnly(players.GetPlayer))
		mux.Handle("PUT /admin/players/{id}/password", adminOnly(players.ResetPassword))
	}

	if deps.Cleanup != nil {
		mux.HandleFunc("GET /internal/maintenance/cleanup", deps.Cleanup.Handle)
		mux.HandleFunc("POST /internal/maintenance/cleanup", deps.Cleanup.Handle)
	}
	mux.HandleFunc("GET /health", healthHandler(deps.Health))
	mux.Handle("GET /metrics", deps.Metrics.Handler())

	var handler http.Handler = deps.Metrics.Instrument(mux)
	handler = observability.CORSMiddleware(deps.CORSOrigins, handler)
	handler = observability.SecurityHeadersMiddleware(handler)
	handler = observability.RequestLoggingMiddleware(deps.Logger, deps.ClientIPs.ClientIP, handler)
	handler = observability.RecoverMiddleware(deps.Logger, handler)
	return observability.RequestIDMiddleware(handler)
}

func healthHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if pinger == nil || pinger.PingContext(ctx) != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

var _ Pinger = (*sql.DB)(nil)
