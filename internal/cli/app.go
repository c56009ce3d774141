package cli

import (
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"sharedash/internal/config"
	"sharedash/internal/database"
	"sharedash/internal/fs"
	"sharedash/internal/fs/graph"
	"sharedash/internal/fs/local"
	"sharedash/internal/process"
	"sharedash/internal/session"
	"sharedash/internal/transform"
)

// app 一次命令执行所需的依赖
type app struct {
	cfg    *config.Config
	db     *database.DB // 仅 graph 后端
	store  fs.Store
	tokens *graph.CachedProvider
}

// openApp 按配置组装存储后端
func openApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.Store.Backend == config.BackendLocal {
		a.store = local.NewAdapter(cfg.Store.LocalRoot)
		slog.Info("使用本地目录作为存储", "root", cfg.Store.LocalRoot)
		return a, nil
	}

	db, err := database.NewBoltDB(cfg.System.DBPath)
	if err != nil {
		return nil, fmt.Errorf("无法打开数据库 %s: %w", cfg.System.DBPath, err)
	}
	a.db = db
	a.tokens = newTokenProvider(cfg, db)

	client := graph.NewClient(&graph.Options{
		BaseURL:  cfg.Graph.BaseURL,
		Tokens:   a.tokens,
		RetryMax: cfg.Graph.Retries,
		Timeout:  cfg.Graph.TimeoutDuration,
	})
	a.store = graph.NewAdapter(client)
	slog.Info("使用 Graph 网盘", "drive", cfg.Graph.DriveID, "auth_mode", cfg.Graph.AuthMode)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Warn("关闭数据库失败", "err", err)
		}
	}
}

// newSession 浏览会话，处理函数来自配置中的清洗步骤
func (a *app) newSession() (*session.Session, *transform.Pipeline, error) {
	pipeline, err := transform.NewPipeline(a.cfg.Processing.Steps)
	if err != nil {
		return nil, nil, err
	}
	sess := session.New(&session.Options{
		Store:        a.store,
		ContainerID:  a.cfg.ContainerID(),
		OutputPrefix: a.cfg.Processing.OutputPrefix,
		Transform:    process.TransformFunc(pipeline.Hook()),
		MaxWorkers:   a.cfg.Processing.MaxWorkers,
	})
	return sess, pipeline, nil
}

func oauthConfig(cfg *config.Config) *oauth2.Config {
	scopes := cfg.Graph.Scopes
	if len(scopes) == 0 {
		scopes = graph.DelegatedScopes
	}
	return &oauth2.Config{
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		Endpoint:     graph.Endpoint(cfg.Graph.LoginURL, cfg.Graph.TenantID),
		RedirectURL:  cfg.Graph.RedirectURL,
		Scopes:       scopes,
	}
}

func newTokenProvider(cfg *config.Config, db *database.DB) *graph.CachedProvider {
	key := graph.CacheKey(cfg.Graph.TenantID, cfg.Graph.ClientID, cfg.Graph.AuthMode)

	if cfg.Graph.AuthMode == config.AuthAuthorizationCode {
		return graph.NewCachedProvider(graph.RefreshSource(oauthConfig(cfg)), db, key)
	}

	scopes := cfg.Graph.Scopes
	if len(scopes) == 0 {
		scopes = []string{graph.DefaultScope}
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		TokenURL:     graph.Endpoint(cfg.Graph.LoginURL, cfg.Graph.TenantID).TokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return graph.NewCachedProvider(graph.ClientCredentialsSource(cc), db, key)
}
