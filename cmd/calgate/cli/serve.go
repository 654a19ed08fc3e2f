package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/calgate/calgate/internal/gateway"
	"github.com/calgate/calgate/internal/secrets"
	"github.com/calgate/calgate/internal/server"
	"github.com/calgate/calgate/internal/service"
	"github.com/calgate/calgate/internal/store"
	"github.com/calgate/calgate/internal/telemetry"
	"github.com/calgate/calgate/internal/tools"
)

const banner = `
  ___      _          _
 / __|__ _| |__ _ __ _| |_ ___
| (__/ _' | / _' / _' |  _/ -_)
 \___\__,_|_\__, \__,_|\__\___|
            |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Calgate gateway server",
		Long:  "Start the HTTP server that exposes the protocol endpoint and the management API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging, error detail in responses)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// The encryption secret protects every credential at rest. Refuse to
	// start without it rather than fall back to a predictable default.
	encryptionSecret := viper.GetString("vault.encryption_secret")
	if encryptionSecret == "" {
		return fmt.Errorf("no encryption secret configured: set CALGATE_VAULT_ENCRYPTION_SECRET or vault.encryption_secret in calgate.yaml")
	}
	box, err := secrets.New(encryptionSecret)
	if err != nil {
		return fmt.Errorf("init credential vault: %w", err)
	}

	jwtSecret := viper.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		if !dev {
			return fmt.Errorf("no JWT secret configured: set CALGATE_AUTH_JWT_SECRET or auth.jwt_secret in calgate.yaml")
		}
		jwtSecret = "calgate-dev-secret-change-me"
		logger.Warn("using development JWT secret; do not use in production")
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()
	logger.Info("store initialized", "path", resolveDataDir())

	sessionTTL := viper.GetDuration("auth.session_ttl")
	if sessionTTL == 0 {
		sessionTTL = 24 * time.Hour
	}

	keySvc := service.NewKeyService(st, logger)
	authSvc := service.NewAuthService(st, keySvc, jwtSecret, sessionTTL)
	vault := service.NewVault(st, box)
	analytics := service.NewAnalytics(st)

	executor := tools.NewCalendarExecutor(viper.GetString("upstream.base_url"), logger)
	dispatcher := gateway.New(
		authSvc,
		vault,
		st,
		executor,
		logger,
		viper.GetString("gateway.setup_url"),
		dev,
	)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = host
	srvCfg.Port = port
	if origins := viper.GetStringSlice("server.cors.allowed_origins"); len(origins) > 0 {
		srvCfg.CORSOrigins = origins
	}
	if baseURL := viper.GetString("server.base_url"); baseURL != "" {
		srvCfg.BaseURL = baseURL
	}
	if limit := viper.GetInt("gateway.rate_limit_per_minute"); limit > 0 {
		srvCfg.GatewayRateLimit = limit
	}

	srv := server.New(srvCfg, st, authSvc, keySvc, vault, analytics, dispatcher, logger)

	users, err := st.CountUsers(context.Background())
	if err != nil {
		logger.Warn("failed to count users", "error", err)
	}
	if users == 0 {
		logger.Warn("no users found - run: calgate user create")
	}

	fmt.Printf("→ Calgate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Gateway:    http://%s:%d/mcp\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Println()

	tracker := telemetry.New(context.Background(), st, heartbeatProperties(st))
	if tracker != nil {
		telemetry.PrintNotice()
		tracker.Start()
		defer tracker.Shutdown()
	}

	return srv.ListenAndServe()
}

// heartbeatProperties gathers anonymous instance stats for each telemetry
// flush. Counts only, never content.
func heartbeatProperties(st *store.Store) telemetry.PropertiesFunc {
	return func() telemetry.Properties {
		ctx := context.Background()
		users, _ := st.CountUsers(ctx)
		keys, _ := st.CountActiveAPIKeys(ctx)
		calendars, _ := st.CountCredentials(ctx)
		requests, _ := st.CountRequestLogs(ctx)
		return telemetry.Properties{
			Version:            versionString(),
			GoVersion:          runtime.Version(),
			OS:                 runtime.GOOS,
			Arch:               runtime.GOARCH,
			Users:              users,
			ActiveAPIKeys:      keys,
			ConnectedCalendars: calendars,
			RequestsLogged:     requests,
		}
	}
}
