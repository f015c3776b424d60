// The CEPCCO backend front controller: loads the YAML route table, wires
// every service explicitly, and serves the module dispatch API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/CePCCo-Asesores/backend-universal/internal/dispatch"
	"github.com/CePCCo-Asesores/backend-universal/internal/migrate"
	"github.com/CePCCo-Asesores/backend-universal/internal/modules/adia"
	"github.com/CePCCo-Asesores/backend-universal/internal/modules/neuroplan"
	"github.com/CePCCo-Asesores/backend-universal/internal/ratelimit"
	"github.com/CePCCo-Asesores/backend-universal/internal/registry"
	"github.com/CePCCo-Asesores/backend-universal/internal/users"
	"github.com/CePCCo-Asesores/backend-universal/pkg/authn"
	"github.com/CePCCo-Asesores/backend-universal/pkg/config"
	"github.com/CePCCo-Asesores/backend-universal/pkg/contract"
	"github.com/CePCCo-Asesores/backend-universal/pkg/db"
	"github.com/CePCCo-Asesores/backend-universal/pkg/eventbus"
	"github.com/CePCCo-Asesores/backend-universal/pkg/httpx"
	"github.com/CePCCo-Asesores/backend-universal/pkg/moduleid"
)

type routeDef struct {
	Handler string `yaml:"handler"`
	Method  string `yaml:"method"`
}

func main() {
	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Load(root)

	log := newLogger(cfg.Production())
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}

	contracts := contract.NewLoader(cfg.Root)
	limiter := ratelimit.New(ratelimit.NewPGStore(pool), cfg.RateLimitPerMin, log)
	tokens := authn.NewJWT(cfg.JWTSecret, time.Hour)
	google := authn.NewGoogleVerifier(cfg.GoogleClientID)
	userStore := users.NewStore(pool)
	migrator := &migrate.Runner{DB: pool, Root: cfg.Root}

	bus := eventbus.New(log)
	bus.Subscribe("module.activated", func(p map[string]any) {
		log.Debug("module.activated", zap.Any("event", p))
	})

	reg := registry.New()
	reg.Register(neuroplan.ModuleName, neuroplan.New(neuroplan.NewPGStore(pool)))
	reg.Register(adia.ModuleName, adia.New(pool))
	reg.Restrict(cfg.ModuleAllowlist)

	ctrl := &dispatch.Controller{
		Modules:    reg,
		Contracts:  contracts,
		Limiter:    limiter,
		Tokens:     tokens,
		Bus:        bus,
		Log:        log,
		Production: cfg.Production(),
	}

	handlers := map[string]http.HandlerFunc{
		"module.activate":     ctrl.Activate,
		"module.registerUser": registerUserHandler(userStore),
		"auth.google":         authGoogleHandler(google, tokens, userStore, log),
		"health.ping":         healthHandler(pool, reg),
		"system.migrate":      migrateHandler(migrator, log),
	}

	r := chi.NewRouter()
	if err := mountRoutes(r, cfg.Root, handlers); err != nil {
		log.Fatal("route table invalid", zap.Error(err))
	}

	log.Info("listening", zap.String("port", cfg.Port), zap.Strings("modules", reg.List()))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

// mountRoutes binds routes.yaml entries to named handlers. An entry naming an
// unknown handler is a startup error, not a 500 at request time.
func mountRoutes(r chi.Router, root string, handlers map[string]http.HandlerFunc) error {
	raw, err := os.ReadFile(root + "/routes.yaml")
	if err != nil {
		return fmt.Errorf("routes.yaml: %w", err)
	}
	var routes map[string]routeDef
	if err := yaml.Unmarshal(raw, &routes); err != nil {
		return fmt.Errorf("routes.yaml: %w", err)
	}
	for path, def := range routes {
		h, ok := handlers[def.Handler]
		if !ok {
			return fmt.Errorf("routes.yaml: unknown handler %q for %s", def.Handler, path)
		}
		method := strings.ToUpper(def.Method)
		if method == "" {
			method = http.MethodPost
		}
		r.Method(method, path, h)
	}
	return nil
}

func registerUserHandler(store *users.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Module string `json:"module"`
			Email  string `json:"email"`
			Name   string `json:"name"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.Module) == "" || strings.TrimSpace(req.Email) == "" {
			httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_error", "module y email son requeridos", nil)
			return
		}
		schema := moduleid.SchemaName(req.Module)
		if err := store.UpsertModuleUser(r.Context(), schema, req.Email, req.Name); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "module": schema, "email": req.Email})
	}
}

func authGoogleHandler(google *authn.GoogleVerifier, tokens *authn.JWT, store *users.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDToken string `json:"id_token"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil || req.IDToken == "" {
			httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_error", "id_token requerido", nil)
			return
		}
		user, err := google.Verify(r.Context(), req.IDToken)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Google ID token inválido", nil)
			return
		}
		if err := store.UpsertCore(r.Context(), user.Email, "", user.Sub); err != nil {
			log.Error("user upsert failed", zap.String("email", user.Email), zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "no se pudo registrar el usuario", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"ok":    true,
			"token": tokens.Generate(user),
			"user":  user,
		})
	}
}

func healthHandler(pool *pgxpool.Pool, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"ok":      true,
			"time":    time.Now().Format(time.RFC3339),
			"modules": reg.List(),
		}
		var one int
		if err := pool.QueryRow(r.Context(), `SELECT 1`).Scan(&one); err != nil {
			status["ok"] = false
			status["db"] = "down"
			httpx.WriteJSON(w, http.StatusInternalServerError, status)
			return
		}
		status["db"] = "up"
		httpx.WriteJSON(w, http.StatusOK, status)
	}
}

func migrateHandler(runner *migrate.Runner, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Module string `json:"module"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil || strings.TrimSpace(req.Module) == "" {
			httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_error", "module requerido", nil)
			return
		}
		res, err := runner.Apply(r.Context(), req.Module)
		if err != nil {
			log.Error("migration failed", zap.String("module", req.Module), zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error(), nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "result": res})
	}
}

func newLogger(production bool) *zap.Logger {
	var log *zap.Logger
	var err error
	if production {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return log
}
