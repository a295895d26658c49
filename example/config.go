package example

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xiaoxuxiansheng/gotxm"
	"github.com/xiaoxuxiansheng/gotxm/log"
)

// Config 示例程序的配置，可由 yaml 文件或 GOTXM_ 前缀的环境变量提供
type Config struct {
	// Name 协调者名称，同时作为事务日志的 owner 与参与者 key 的命名空间
	Name string

	MySQLDSN      string
	RedisNetwork  string
	RedisAddress  string
	RedisPassword string

	Timeout       time.Duration
	MonitorTick   time.Duration
	SweepInterval time.Duration
	StopGrace     time.Duration
	LockExpire    time.Duration

	LeaseMin     time.Duration
	LeaseDefault time.Duration
	LeaseMax     time.Duration

	TaskPoolSize    int64
	SettlerPoolSize int64
	IDStripes       int
	IDBlockSize     int64
	ReplayBatch     int

	LogLevel string
	LogFile  string
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("GOTXM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("coordinator.name", "default")
	v.SetDefault("redis.network", "tcp")
	v.SetDefault("tx.timeout", 5*time.Second)
	v.SetDefault("tx.monitor-tick", 10*time.Second)
	v.SetDefault("tx.sweep-interval", time.Second)
	v.SetDefault("tx.stop-grace", 5*time.Second)
	v.SetDefault("lease.min", time.Millisecond)
	v.SetDefault("lease.default", time.Hour)
	v.SetDefault("lease.max", 3*time.Hour)
	v.SetDefault("pool.task", 50)
	v.SetDefault("pool.settler", 150)
	v.SetDefault("id.stripes", 100)
	v.SetDefault("id.block-size", 1000)
	v.SetDefault("log.level", "info")
	return v
}

// LoadConfig 读取配置文件，path 为空时只使用默认值与环境变量
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Config{
		Name:            v.GetString("coordinator.name"),
		MySQLDSN:        v.GetString("mysql.dsn"),
		RedisNetwork:    v.GetString("redis.network"),
		RedisAddress:    v.GetString("redis.address"),
		RedisPassword:   v.GetString("redis.password"),
		Timeout:         v.GetDuration("tx.timeout"),
		MonitorTick:     v.GetDuration("tx.monitor-tick"),
		SweepInterval:   v.GetDuration("tx.sweep-interval"),
		StopGrace:       v.GetDuration("tx.stop-grace"),
		LockExpire:      v.GetDuration("tx.lock-expire"),
		LeaseMin:        v.GetDuration("lease.min"),
		LeaseDefault:    v.GetDuration("lease.default"),
		LeaseMax:        v.GetDuration("lease.max"),
		TaskPoolSize:    v.GetInt64("pool.task"),
		SettlerPoolSize: v.GetInt64("pool.settler"),
		IDStripes:       v.GetInt("id.stripes"),
		IDBlockSize:     v.GetInt64("id.block-size"),
		ReplayBatch:     v.GetInt("mysql.replay-batch"),
		LogLevel:        v.GetString("log.level"),
		LogFile:         v.GetString("log.file"),
	}
	if cfg.LockExpire <= 0 {
		cfg.LockExpire = cfg.MonitorTick
	}
	return &cfg, nil
}

// Options 转换为协调者的配置项
func (c *Config) Options() []gotxm.Option {
	return []gotxm.Option{
		gotxm.WithName(c.Name),
		gotxm.WithTimeout(c.Timeout),
		gotxm.WithMonitorTick(c.MonitorTick),
		gotxm.WithSweepInterval(c.SweepInterval),
		gotxm.WithStopGrace(c.StopGrace),
		gotxm.WithLeasePolicy(gotxm.LeasePolicy{
			Min:     c.LeaseMin,
			Default: c.LeaseDefault,
			Max:     c.LeaseMax,
		}),
		gotxm.WithPoolSize(c.TaskPoolSize, c.SettlerPoolSize),
		gotxm.WithIDAllocation(c.IDStripes, c.IDBlockSize),
	}
}

// LogOptions 转换为日志配置项
func (c *Config) LogOptions() []log.Option {
	opts := []log.Option{log.WithLogLevel(c.LogLevel)}
	if c.LogFile != "" {
		opts = append(opts, log.WithFileName(c.LogFile))
	}
	return opts
}
