package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB
)

func GetDB() *gorm.DB {
	return db
}

func init() {
	godotenv.Load()
	// The HTTP port opens before the DB is reachable; main connects after listening.
}

// DatabaseSettings is the MySQL connection and pool configuration.
type DatabaseSettings struct {
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	// /cloudsql/<CONNECTION_NAME> switches to the Cloud SQL unix socket.
	Host string `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port string `env:"DB_PORT" envDefault:"3306"`
	Name string `env:"DB_NAME" envDefault:"rift"`

	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"             envDefault:"50"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"             envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"          envDefault:"5m"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME"         envDefault:"1m"`
	SlowQuery       time.Duration `env:"DB_SLOW_QUERY_THRESHOLD"       envDefault:"1s"`
	VerboseSQL      bool          `env:"GORM_LOG_SQL"                  envDefault:"false"`
}

func LoadDatabaseSettings() (DatabaseSettings, error) {
	var s DatabaseSettings
	if err := env.Parse(&s); err != nil {
		return DatabaseSettings{}, fmt.Errorf("parse database env: %w", err)
	}
	return s, nil
}

// DSN always sets parseTime and loc=UTC; every timestamp in the schema is UTC.
func (s DatabaseSettings) DSN() string {
	network, address := "tcp", s.Host+":"+s.Port
	if strings.HasPrefix(s.Host, "/cloudsql/") {
		network, address = "unix", s.Host
	}
	return fmt.Sprintf("%s:%s@%s(%s)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
		s.User, s.Password, network, address, s.Name)
}

// ConnectDatabaseWithRetry blocks until MySQL answers, then sets the global handle.
func ConnectDatabaseWithRetry() {
	settings, err := LoadDatabaseSettings()
	if err != nil {
		GetLogger().WithFields(logrus.Fields{"field": "database"}).Fatal(err.Error())
	}

	for attempt := 1; ; attempt++ {
		conn, err := gorm.Open(mysql.Open(settings.DSN()), gormConfig(settings))
		if err == nil {
			configurePool(conn, settings)
			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				GetLogger().WithFields(logrus.Fields{"field": "database"}).Warn("otelgorm plugin: " + pluginErr.Error())
			}
			if pluginErr := conn.Use(NewAppendOnlyGuardPlugin()); pluginErr != nil {
				GetLogger().WithFields(logrus.Fields{"field": "database"}).Fatal("append-only guard: " + pluginErr.Error())
			}
			db = conn
			GetLogger().WithFields(logrus.Fields{"field": "database", "attempt": attempt}).Info("connected to database")
			return
		}

		sleep := BackoffFor(attempt)
		GetLogger().WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
			"retry":   sleep.String(),
		}).Warn("database not reachable: " + err.Error())
		time.Sleep(sleep)
	}
}

func configurePool(conn *gorm.DB, s DatabaseSettings) {
	sqlDB, err := conn.DB()
	if err != nil || sqlDB == nil {
		return
	}
	if s.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(s.MaxOpenConns)
	}
	if s.MaxIdleConns >= 0 {
		sqlDB.SetMaxIdleConns(s.MaxIdleConns)
	}
	if s.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(s.ConnMaxLifetime)
	}
	if s.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(s.ConnMaxIdleTime)
	}
}

// BackoffFor is the retry delay shared by the Connect* helpers: 2s, 4s, ... capped at 30s.
func BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		attempt = 5
	}
	sleep := time.Second << attempt
	if sleep > 30*time.Second {
		sleep = 30 * time.Second
	}
	return sleep
}

func gormConfig(s DatabaseSettings) *gorm.Config {
	level := logger.Error
	if s.VerboseSQL {
		level = logger.Info
	}
	return &gorm.Config{
		Logger: logger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  level,
				SlowThreshold:             s.SlowQuery,
				IgnoreRecordNotFoundError: true,
			},
		),
		NamingStrategy: schema.NamingStrategy{},
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}
