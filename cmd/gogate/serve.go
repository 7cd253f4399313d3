package main

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/config"
	"github.com/MrEthical07/goGate/internal/errutil"
	"github.com/MrEthical07/goGate/internal/logging"
	"github.com/MrEthical07/goGate/metrics/export/prometheus"
	"github.com/MrEthical07/goGate/middleware"
	"github.com/MrEthical07/goGate/middleware/ginguard"
)

func newServeCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Long: `Run the gateway in front of a set of demo routes. Every request is
authorized against the configured rule table; /login and /logout handle the
form login lifecycle.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := config.Load(*configFile, cmd.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, f)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, f config.File) error {
	logger := logging.Setup("gogate", version, logging.Options{
		Format: f.Log.Format,
		Level:  f.Log.Level,
	})
	slog.SetDefault(logger)

	var cl closers
	defer cl.run()

	engine, err := buildEngine(ctx, f, logger, &cl)
	if err != nil {
		errutil.LogError(ctx, logger, "engine build failed", err)
		return err
	}

	router, err := newRouter(engine, f, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              f.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", f.Server.Addr, "remember_me", engine.RememberMeEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.In("serve").Code("LISTEN_FAILED").With("addr", f.Server.Addr).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", "timeout", f.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), f.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.In("serve").Code("SHUTDOWN_FAILED").Wrap(err)
	}
	if dropped := engine.AuditDropped(); dropped > 0 {
		logger.Warn("audit events dropped during run", "count", dropped)
	}
	return nil
}

// newRouter builds the gin router: unguarded health and metrics endpoints,
// the login and logout surfaces, then the guarded demo routes.
func newRouter(engine *goGate.Engine, f config.File, logger *slog.Logger) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		latency, err := engine.Ping(c.Request.Context())
		if err != nil {
			errutil.LogError(c.Request.Context(), logger, "health check failed", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "redis_latency_ms": latency.Milliseconds()})
	})

	if f.Metrics.Enabled && f.Metrics.Path != "" {
		h, err := prometheus.Handler(engine)
		if err != nil {
			return nil, err
		}
		router.GET(f.Metrics.Path, gin.WrapH(h))
	}

	gate := middleware.New(engine,
		middleware.WithLogger(logger),
		middleware.WithDeviceID(func(r *http.Request) string { return r.UserAgent() }),
	)
	ginguard.Mount(router, gate)

	form := gate.Form()
	router.GET(form.LoginPagePath, func(c *gin.Context) {
		c.Status(http.StatusOK)
		c.Header("Content-Type", "text/html; charset=utf-8")
		_ = loginPage.Execute(c.Writer, loginPageData{
			Action:          form.LoginPath,
			UsernameField:   form.UsernameField,
			PasswordField:   form.PasswordField,
			RememberMeField: form.RememberMeField,
			RememberMe:      engine.RememberMeEnabled(),
			Failed:          c.Request.URL.Query().Has("error"),
		})
	})
	router.NoRoute(echo)

	return router, nil
}

// echo answers every admitted request with the caller and path.
func echo(c *gin.Context) {
	body := gin.H{"path": c.Request.URL.Path}
	if p, ok := ginguard.Principal(c); ok {
		body["principal"] = p.Username
		body["roles"] = p.Roles
	}
	c.JSON(http.StatusOK, body)
}

type loginPageData struct {
	Action          string
	UsernameField   string
	PasswordField   string
	RememberMeField string
	RememberMe      bool
	Failed          bool
}

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<title>Sign in</title>
{{if .Failed}}<p>Invalid username or password.</p>{{end}}
<form method="post" action="{{.Action}}">
<input name="{{.UsernameField}}" autocomplete="username">
<input name="{{.PasswordField}}" type="password" autocomplete="current-password">
{{if .RememberMe}}<label><input type="checkbox" name="{{.RememberMeField}}"> Remember me</label>{{end}}
<button type="submit">Sign in</button>
</form>
`))
