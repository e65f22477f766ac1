package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/cmsgate/internal/config"
	"github.com/hitoshi/cmsgate/internal/database"
	"github.com/hitoshi/cmsgate/internal/logger"
	"github.com/hitoshi/cmsgate/internal/repository"
	"github.com/hitoshi/cmsgate/internal/telemetry"
	"github.com/hitoshi/cmsgate/internal/user"
)

// serviceName はトレースとメトリクスで使うサービス名。
const serviceName = "cmsgate"

// storeConnectTimeout は起動時のデータベース疎通確認の期限。
const storeConnectTimeout = 5 * time.Second

// Init はserveコマンドの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// InitStore はmigrate / create-adminコマンドの初期化を行う。
// 資格情報ストアの設定だけを検証する。
func InitStore(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w)

	cfg, err := config.LoadStore()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	switch cmd {
	case CommandHealthcheck:
		// 軽量サブコマンドのため、フル初期化をスキップする
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)

	case CommandMigrate:
		cfg, err := InitStore(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runMigrate(cfg)

	case CommandCreateAdmin:
		a, ok := ParseCreateAdminArgs(args)
		if !ok {
			return errors.New("usage: cmsgate create-admin <email> <password> [admin|super_admin]")
		}
		cfg, err := InitStore(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}
		return runCreateAdmin(cfg, a)

	default:
		cfg, err := Init(w)
		if err != nil {
			return fmt.Errorf("initialization failed: %w", err)
		}

		slog.Info("starting application",
			slog.String("command", string(cmd)),
			slog.String("port", cfg.ServerPort),
			slog.String("base_url", cfg.BaseURL),
			slog.String("credential_store", cfg.CredentialStore),
		)
		return runServe(cfg)
	}
}

// runServe はゲートサーバーモードで起動する。
// 資格情報ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. トレースの初期化
	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 2. 資格情報ストアの初期化
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. ゲートの構築
	gw, err := NewGateway(cfg, store, slog.Default())
	if err != nil {
		return err
	}
	defer gw.Close()

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           otelhttp.NewHandler(gw.Handler, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("gate server starting",
			slog.String("addr", server.Addr),
			slog.String("login_path", cfg.LoginPath),
			slog.Bool("signed_sessions", !cfg.SessionLegacyUnsigned),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down gate server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("gate server stopped gracefully")
	return nil
}

// openStore は設定で選択された資格情報ストアを1つだけ開く。
// 返り値の関数でストアを閉じる。
func openStore(ctx context.Context, cfg *config.Config) (repository.AdminUserRepository, func(), error) {
	switch cfg.CredentialStore {
	case config.StoreMemory:
		store := repository.NewMemoryAdminUserRepo()
		if err := seedMemoryStore(ctx, store, cfg); err != nil {
			return nil, nil, err
		}
		slog.Warn("using in-memory credential store; admin users are lost on restart")
		return store, func() {}, nil

	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.Ping(db, storeConnectTimeout); err != nil {
			db.Close()
			return nil, nil, err
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		closeFn := func() {
			if err := db.Close(); err != nil {
				slog.Warn("failed to close database", slog.String("error", err.Error()))
			}
		}
		return repository.NewPostgresAdminUserRepo(db), closeFn, nil
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.CredentialStore != config.StorePostgres {
		return fmt.Errorf("migrate requires CREDENTIAL_STORE=%s", config.StorePostgres)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCreateAdmin は管理ユーザーをPostgreSQLの資格情報ストアに作成する。
func runCreateAdmin(cfg *config.Config, a CreateAdminArgs) error {
	if cfg.CredentialStore != config.StorePostgres {
		return fmt.Errorf("create-admin requires CREDENTIAL_STORE=%s", config.StorePostgres)
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	return createAdmin(ctx, store, a)
}

// createAdmin は管理ユーザーを作成する。
// 既に同じemailが存在する場合は何もせず成功とする。
func createAdmin(ctx context.Context, creator user.AdminCreator, a CreateAdminArgs) error {
	_, err := user.NewService(creator).CreateAdmin(ctx, a.Email, a.Password, a.Role)
	if errors.Is(err, repository.ErrDuplicateEmail) {
		slog.Info("admin user already exists", slog.String("admin_email", a.Email))
		return nil
	}
	if err != nil {
		return fmt.Errorf("create-admin failed: %w", err)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
