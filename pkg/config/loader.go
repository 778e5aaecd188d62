package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀: SLOB_DATABASE_DRIVER, SLOB_INDEX_TYPE ...
const EnvPrefix = "SLOB"

// Load 初始化 Viper 配置
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) error {
	// 1. 设置默认值 (Defaults)
	SetDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		// 搜索顺序：当前目录 -> ./.slob -> ~/.slob
		viper.AddConfigPath(".")
		viper.AddConfigPath(".slob")
		viper.AddConfigPath(filepath.Join(home, ".slob"))

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (SLOB_DATABASE_HOST 等)
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 没找到配置文件不算错，可能全部来自默认值和环境变量
		// 但如果是配置文件格式错，那就是错
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error config file: %w", err)
		}
	}

	return nil
}

// SetDefaults 注册全部配置项的默认值
func SetDefaults() {
	// 数据库默认值
	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.path", filepath.Join(".slob", "slob.db"))
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "slob")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "slob")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("store.kind", "Wavelet")

	// 重试策略
	viper.SetDefault("retry.max_attempts", 5)
	viper.SetDefault("retry.min_backoff", "20ms")
	viper.SetDefault("retry.max_backoff", "1s")
	viper.SetDefault("retry.jitter_percent", 10)

	// 权限缓存
	viper.SetDefault("permissions.ttl", "30s")
	viper.SetDefault("permissions.redis_url", "")

	// 外部索引: file | memory | s3 | redis | none
	viper.SetDefault("index.type", "file")
	viper.SetDefault("index.path", filepath.Join(".slob", "index.json"))
	viper.SetDefault("index.ordered", true)
	viper.SetDefault("index.ordered_capacity", 10000)
	viper.SetDefault("index.s3.endpoint", "")
	viper.SetDefault("index.s3.region", "us-east-1")
	viper.SetDefault("index.s3.bucket", "")
	viper.SetDefault("index.s3.access_key_id", "")
	viper.SetDefault("index.s3.secret_access_key", "")
	viper.SetDefault("index.s3.prefix", "slob-index")
	viper.SetDefault("index.redis.url", "")
	viper.SetDefault("index.redis.max_len", 10000)

	viper.SetDefault("log.verbose", false)
}
