package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sharedash/internal/transform"
)

// 存储后端
const (
	BackendGraph = "graph"
	BackendLocal = "local"
)

// 认证方式
const (
	AuthClientCredentials = "client_credentials"
	AuthAuthorizationCode = "authorization_code"
)

// Config 对应 config.yaml 的根结构
type Config struct {
	Graph      GraphConfig      `yaml:"graph"`
	Store      StoreConfig      `yaml:"store"`
	Processing ProcessingConfig `yaml:"processing"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	System     SystemConfig     `yaml:"system"`
}

// GraphConfig Microsoft Graph 网盘配置，凭证也可以通过环境变量提供
type GraphConfig struct {
	TenantID     string   `yaml:"tenant_id"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	DriveID      string   `yaml:"drive_id"`
	AuthMode     string   `yaml:"auth_mode"`
	RedirectURL  string   `yaml:"redirect_url"` // authorization_code 模式的本地回调地址
	Scopes       []string `yaml:"scopes"`
	BaseURL      string   `yaml:"base_url"`
	LoginURL     string   `yaml:"login_url"`
	RetryMax     *int     `yaml:"retry_max"` // 未设置时为 4，显式 0 表示不重试
	Timeout      string   `yaml:"timeout"`
	// 解析后的 Timeout / RetryMax，不导出到 yaml
	TimeoutDuration time.Duration `yaml:"-"`
	Retries         int           `yaml:"-"`
}

// StoreConfig 选择远端存储实现
type StoreConfig struct {
	Backend   string `yaml:"backend"`    // graph (默认) / local
	LocalRoot string `yaml:"local_root"` // backend=local 时的根目录
}

// ProcessingConfig 批处理配置
type ProcessingConfig struct {
	OutputPrefix string           `yaml:"output_prefix"`
	MaxWorkers   int              `yaml:"max_workers"`
	Steps        []transform.Step `yaml:"steps"`
}

// MetricsConfig Prometheus 监听地址，为空则不启动
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`
}

// 环境变量覆盖 (与原 .env 文件中的名字一致)
var envOverrides = []struct {
	name string
	dst  func(*Config) *string
}{
	{"TENANT_ID", func(c *Config) *string { return &c.Graph.TenantID }},
	{"CLIENT_ID", func(c *Config) *string { return &c.Graph.ClientID }},
	{"CLIENT_SECRET", func(c *Config) *string { return &c.Graph.ClientSecret }},
	{"DRIVE_ID", func(c *Config) *string { return &c.Graph.DriveID }},
}

// LoadConfig 读取并解析配置文件；文件不存在时只使用默认值和环境变量
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 格式错误: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// 允许完全依赖环境变量
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			*o.dst(&cfg) = v
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendGraph
	}
	if c.Graph.AuthMode == "" {
		c.Graph.AuthMode = AuthClientCredentials
	}
	if c.Graph.RedirectURL == "" {
		// 必须与应用注册中的回调地址完全一致，包括端口
		c.Graph.RedirectURL = "http://localhost:8000"
	}
	if c.Graph.BaseURL == "" {
		c.Graph.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if c.Graph.LoginURL == "" {
		c.Graph.LoginURL = "https://login.microsoftonline.com"
	}
	if c.Graph.RetryMax == nil {
		retries := 4
		c.Graph.RetryMax = &retries
	}
	if c.Graph.Timeout == "" {
		c.Graph.Timeout = "60s"
	}
	if c.Processing.OutputPrefix == "" {
		c.Processing.OutputPrefix = "processed_"
	}
	if c.Processing.MaxWorkers == 0 {
		c.Processing.MaxWorkers = 1
	}
	if c.System.DBPath == "" {
		c.System.DBPath = "data/sharedash.db"
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.LogFormat == "" {
		c.System.LogFormat = "text"
	}
}

// Validate 校验与转换
func (c *Config) Validate() error {
	duration, err := time.ParseDuration(c.Graph.Timeout)
	if err != nil {
		return fmt.Errorf("无效的超时格式 (graph.timeout): %v", err)
	}
	c.Graph.TimeoutDuration = duration

	if c.Graph.RetryMax != nil {
		if *c.Graph.RetryMax < 0 {
			return fmt.Errorf("graph.retry_max 不能为负数: %d", *c.Graph.RetryMax)
		}
		c.Graph.Retries = *c.Graph.RetryMax
	}

	switch c.Store.Backend {
	case BackendGraph:
		if c.Graph.DriveID == "" {
			return errors.New("graph.drive_id (或环境变量 DRIVE_ID) 不能为空")
		}
		if c.Graph.TenantID == "" || c.Graph.ClientID == "" {
			return errors.New("graph.tenant_id 和 graph.client_id (或 TENANT_ID / CLIENT_ID) 不能为空")
		}
	case BackendLocal:
		if c.Store.LocalRoot == "" {
			return errors.New("store.backend=local 时 store.local_root 不能为空")
		}
	default:
		return fmt.Errorf("未知的存储后端: %s", c.Store.Backend)
	}

	switch c.Graph.AuthMode {
	case AuthClientCredentials:
		if c.Store.Backend == BackendGraph && c.Graph.ClientSecret == "" {
			return errors.New("client_credentials 模式需要 graph.client_secret (或 CLIENT_SECRET)")
		}
	case AuthAuthorizationCode:
	default:
		return fmt.Errorf("未知的认证方式: %s", c.Graph.AuthMode)
	}

	if c.Processing.MaxWorkers < 0 {
		return fmt.Errorf("processing.max_workers 不能为负数: %d", c.Processing.MaxWorkers)
	}
	if _, err := transform.NewPipeline(c.Processing.Steps); err != nil {
		return err
	}
	return nil
}

// ContainerID 当前后端使用的容器 ID
func (c *Config) ContainerID() string {
	if c.Store.Backend == BackendLocal {
		return ""
	}
	return c.Graph.DriveID
}
