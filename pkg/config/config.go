package config

import (
	"errors"
	"io/fs"
	"log"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type options struct {
	paths    []string
	envFiles []string
	defaults map[string]any
	aliases  map[string][]string
	onChange func(v *viper.Viper)
	watch    bool
}

type Option func(*options)

// WithPaths 替换默认的配置搜索路径 (./config, .)
func WithPaths(paths ...string) Option {
	return func(o *options) { o.paths = paths }
}

// WithEnvFiles 指定 .env 文件；不存在的文件直接忽略
func WithEnvFiles(files ...string) Option {
	return func(o *options) { o.envFiles = files }
}

// WithDefaults 配置文件和环境变量都没给时的兜底值，key 用点号路径
func WithDefaults(d map[string]any) Option {
	return func(o *options) { o.defaults = d }
}

// WithEnvAliases 额外的环境变量名，不带前缀，例如 kafka.brokers <- NASDAQ_KAFKA_BOOTSTRAP_URL
func WithEnvAliases(aliases map[string][]string) Option {
	return func(o *options) { o.aliases = aliases }
}

// OnChange 文件变更回调；out 不会被并发改写，需要热更新的字段在回调里自己取
func OnChange(fn func(v *viper.Viper)) Option {
	return func(o *options) { o.onChange = fn }
}

// NoWatch 关闭 fsnotify 监听（单测用）
func NoWatch() Option {
	return func(o *options) { o.watch = false }
}

// LoadAndWatch 约定：config/{service}.yaml，环境变量前缀 {SERVICE}_，
// 例如 STREAM_SERVICE_KAFKA_CLIENT_ID 覆盖 kafka.client_id
func LoadAndWatch(service string, out interface{}, opts ...Option) (*viper.Viper, error) {
	o := options{
		paths:    []string{"./config", "."},
		envFiles: []string{".env"},
		watch:    true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	// .env 先于 viper 读取，已存在的环境变量不会被覆盖
	for _, f := range o.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range o.paths {
		v.AddConfigPath(p)
	}
	for k, val := range o.defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envPrefix(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range o.aliases {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// 有 defaults 时允许没有配置文件，全部走默认值 + 环境变量
		if !errors.As(err, &notFound) || o.defaults == nil {
			return nil, err
		}
		log.Printf("[%s] no config file found, using defaults and env", service)
	} else {
		log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	if o.watch && v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			log.Printf("[%s] config file changed: %s", service, e.Name)
			if o.onChange != nil {
				o.onChange(v)
			}
		})
		v.WatchConfig()
	}

	return v, nil
}

func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
