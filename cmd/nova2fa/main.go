package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/brandnova/nova2fa/pkg/config"
	"github.com/brandnova/nova2fa/pkg/emailotp"
	"github.com/brandnova/nova2fa/pkg/encryption"
	"github.com/brandnova/nova2fa/pkg/method"
	"github.com/brandnova/nova2fa/pkg/notification"
	"github.com/brandnova/nova2fa/pkg/ratelimit"
	"github.com/brandnova/nova2fa/pkg/session"
	"github.com/brandnova/nova2fa/pkg/twofa"
	twofaapi "github.com/brandnova/nova2fa/pkg/twofa/api"
	"github.com/brandnova/nova2fa/pkg/user"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var pool *pgxpool.Pool
	if cfg.Server.Persistence == "postgres" {
		pool, err = pgxpool.New(context.Background(), cfg.Database.ToDatabaseURL())
		if err != nil {
			slog.Error("Failed to create database pool",
				"host", cfg.Database.Host, "database", cfg.Database.Database, "error", err)
			os.Exit(1)
		}
		defer pool.Close()
	}

	accountRepo, err := twofa.NewRepository(cfg.Server.Persistence, twofa.RepositoryConfig{
		Pool:    pool,
		DataDir: cfg.Server.DataDir,
	})
	if err != nil {
		slog.Error("Failed to create account repository", "error", err)
		os.Exit(1)
	}

	otpRepo, err := emailotp.NewRepository(cfg.Server.Persistence, emailotp.RepositoryConfig{
		Pool:    pool,
		DataDir: cfg.Server.DataDir,
	})
	if err != nil {
		slog.Error("Failed to create email OTP repository", "error", err)
		os.Exit(1)
	}

	cipher, err := encryption.NewService(cfg.TwoFactor.KeyConfig())
	if err != nil {
		slog.Error("Failed to create encryption service", "error", err)
		os.Exit(1)
	}

	accounts := twofa.NewService(accountRepo, cfg.TwoFactor.ServiceOptions()...)

	notificationManager, err := notification.NewNotificationManager(
		notification.WithSMTP(cfg.Email.ToSMTPConfig()),
		notification.WithOTPCodeTemplate(cfg.Email.OTPSubject),
	)
	if err != nil {
		slog.Error("Failed to initialize notification manager", "error", err)
		os.Exit(1)
	}

	registry := method.NewRegistry(cfg.TwoFactor.EnabledMethods)
	registry.Register(method.NewTOTPMethod(accounts, cipher, cfg.TwoFactor.Issuer))
	registry.Register(method.NewEmailOTPMethod(otpRepo, notificationManager,
		method.WithExpiry(cfg.TwoFactor.EmailOTPExpiry())))
	backup := method.NewBackupCodesMethod(accounts,
		method.WithCodeCount(cfg.TwoFactor.BackupCodeCount))
	registry.Register(backup)

	var sessionStore session.Store
	switch cfg.Session.Backend {
	case "redis":
		sessionStore = session.NewRedisStore(
			cfg.Session.RedisAddr, cfg.Session.RedisPassword, cfg.Session.RedisDB, cfg.Session.TTL())
		slog.Info("Using redis session store", "addr", cfg.Session.RedisAddr)
	default:
		sessionStore = session.NewMemoryStore()
		slog.Info("Using in-memory session store")
	}

	tokenAuth := jwtauth.New("HS256", []byte(cfg.Server.JWTSecret), nil)
	directory := newMemoryDirectory()
	gate := twofa.NewGate(accounts, cfg.TwoFactor.GateConfig())

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(session.Middleware(sessionStore))
	r.Use(jwtauth.Verifier(tokenAuth))
	r.Use(userContext(directory))
	r.Use(gate.Handler)

	twofaHandle := twofaapi.NewHandle(accounts, registry, backup)
	if cfg.RateLimit.Enabled {
		throttle := ratelimit.NewThrottle(cfg.RateLimit.ToThrottleConfig())
		r.With(throttle.Handler).Mount("/2fa", twofaapi.Routes(twofaHandle))
		slog.Info("Challenge endpoint throttling enabled",
			"capacity", cfg.RateLimit.Capacity, "refillPerMin", cfg.RateLimit.RefillPerMin)
	} else {
		r.Mount("/2fa", twofaapi.Routes(twofaHandle))
	}

	mountDemoRoutes(r, cfg.Server.JWTSecret, directory)

	slog.Info("Starting server",
		"addr", cfg.Server.Addr(),
		"persistence", cfg.Server.Persistence,
		"enabledMethods", cfg.TwoFactor.EnabledMethods)
	if err := http.ListenAndServe(cfg.Server.Addr(), r); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

// userContext resolves the JWT subject through the directory and attaches
// the user to the request context. Requests without a valid token pass
// through unauthenticated; the gate and the handlers decide what that
// means per route.
func userContext(directory user.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				next.ServeHTTP(w, r)
				return
			}

			sub, _ := claims["sub"].(string)
			id, err := uuid.Parse(sub)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			u, err := directory.GetUser(r.Context(), id)
			if err != nil {
				slog.Warn("Token subject not found in directory", "sub", sub)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(user.NewContext(r.Context(), u)))
		})
	}
}

// memoryDirectory is the demo server's user store. A real deployment
// implements user.Directory against its own user database.
type memoryDirectory struct {
	users map[uuid.UUID]user.User
	mutex sync.RWMutex
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{users: make(map[uuid.UUID]user.User)}
}

func (d *memoryDirectory) GetUser(ctx context.Context, id uuid.UUID) (user.User, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	u, exists := d.users[id]
	if !exists {
		return user.User{}, fmt.Errorf("user %s not found", id)
	}
	return u, nil
}

func (d *memoryDirectory) addUser(u user.User) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.users[u.ID] = u
}

// mountDemoRoutes adds the endpoints that stand in for a host
// application: a token mint and a gated page.
func mountDemoRoutes(r chi.Router, jwtSecret string, directory *memoryDirectory) {
	r.Post("/demo/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email     string `json:"email"`
			Superuser bool   `json:"superuser"`
		}
		if err := render.DecodeJSON(r.Body, &req); err != nil || req.Email == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "email is required"})
			return
		}

		u := user.User{ID: uuid.New(), Email: req.Email, Superuser: req.Superuser}
		directory.addUser(u)

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   u.ID.String(),
			"email": u.Email,
			"exp":   time.Now().Add(24 * time.Hour).Unix(),
		})
		signed, err := token.SignedString([]byte(jwtSecret))
		if err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "failed to issue token"})
			return
		}

		render.JSON(w, r, map[string]string{"token": signed, "user_id": u.ID.String()})
	})

	r.Get("/demo/dashboard", func(w http.ResponseWriter, r *http.Request) {
		u, ok := user.FromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "authentication required"})
			return
		}
		render.JSON(w, r, map[string]string{"message": "welcome", "email": u.Email})
	})
}
