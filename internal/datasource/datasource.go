// Package datasource runs SQL and Redis side effects around a call: pre/post
// SQL hooks, database assertions and pre-call Redis lookups.
package datasource

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
)

const (
	// ConnectTimeout bounds the initial ping of a new connection
	ConnectTimeout = 10 * time.Second
)

var (
	// ErrUnknownConnection is returned for a connection reference that is not configured
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrNoValue is returned when a Redis key does not exist or has expired
	ErrNoValue = errors.New("no value")
)

// Config describes one named connection
type Config struct {
	Driver   string `yaml:"driver" json:"driver"`
	DSN      string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"` // redis host:port
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"` // redis database index
	MaxConns int    `yaml:"maxConns,omitempty" json:"maxConns,omitempty"`
}

// Validate checks a connection config
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
		if c.DSN == "" {
			return fmt.Errorf("dsn is required for driver %s", c.Driver)
		}
	case DriverRedis:
		if c.DSN == "" && c.Addr == "" {
			return fmt.Errorf("addr or dsn is required for redis")
		}
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	return nil
}

// Registry opens connections lazily by reference and keeps them pooled.
// It is safe for concurrent use.
type Registry struct {
	logger  *zap.Logger
	configs map[string]Config

	mu    sync.Mutex
	dbs   map[string]*sql.DB
	redis map[string]*redis.Client
}

// NewRegistry creates a registry over named connection configs
func NewRegistry(configs map[string]Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	copied := make(map[string]Config, len(configs))
	for name, c := range configs {
		copied[name] = c
	}
	return &Registry{
		logger:  logger,
		configs: copied,
		dbs:     make(map[string]*sql.DB),
		redis:   make(map[string]*redis.Client),
	}
}

// Names returns the configured connection references
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

// Close closes every opened connection
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for name, c := range r.redis {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	r.dbs = make(map[string]*sql.DB)
	r.redis = make(map[string]*redis.Client)
	return errors.Join(errs...)
}

// Ping checks connectivity of a reference
func (r *Registry) Ping(ctx context.Context, conn string) error {
	cfg, ok := r.configs[conn]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}
	if cfg.Driver == DriverRedis {
		c, err := r.redisClient(conn)
		if err != nil {
			return err
		}
		return c.Ping(ctx).Err()
	}
	_, err := r.sqlDB(ctx, conn)
	return err
}

func (r *Registry) sqlDB(ctx context.Context, conn string) (*sql.DB, error) {
	cfg, ok := r.configs[conn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}
	if cfg.Driver == DriverRedis {
		return nil, fmt.Errorf("connection %s is not a SQL database", conn)
	}

	r.mu.Lock()
	db, ok := r.dbs[conn]
	r.mu.Unlock()
	if ok {
		return db, nil
	}

	driverName := cfg.Driver
	if driverName == DriverPostgres {
		driverName = "pgx"
	}

	// mu is not held while connecting
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", conn, err)
	}
	if cfg.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", conn, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.dbs[conn]; ok {
		db.Close()
		return existing, nil
	}
	r.logger.Debug("opened database connection", zap.String("conn", conn), zap.String("driver", cfg.Driver))
	r.dbs[conn] = db
	return db, nil
}

func (r *Registry) redisClient(conn string) (*redis.Client, error) {
	cfg, ok := r.configs[conn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, conn)
	}
	if cfg.Driver != DriverRedis {
		return nil, fmt.Errorf("connection %s is not a redis store", conn)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.redis[conn]; ok {
		return c, nil
	}

	var opts *redis.Options
	if cfg.DSN != "" {
		parsed, err := redis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid redis dsn for %s: %w", conn, err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	opts.DialTimeout = ConnectTimeout

	c := redis.NewClient(opts)
	r.redis[conn] = c
	return c, nil
}

// RunQuery runs a query and returns all rows, values rendered as strings
func (r *Registry) RunQuery(ctx context.Context, conn, query string) ([]Row, error) {
	db, err := r.sqlDB(ctx, conn)
	if err != nil {
		return nil, err
	}
	return queryRows(ctx, db, query)
}

// RunCommand runs a Redis command and renders the reply as a string
func (r *Registry) RunCommand(ctx context.Context, conn string, args ...interface{}) (string, error) {
	c, err := r.redisClient(conn)
	if err != nil {
		return "", err
	}

	res, err := c.Do(ctx, args...).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoValue
	}
	if err != nil {
		return "", fmt.Errorf("redis command failed: %w", err)
	}
	return replyString(res), nil
}

func replyString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
