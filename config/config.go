package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"leadpilot/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

type IMAPConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Username          string `json:"username"`
	Password          string `json:"-"`
	PasswordEncrypted bool   `json:"password_encrypted"`
	Encryption        string `json:"encryption"` // SSL, STARTTLS or NONE
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	SMTP  SMTPConfig  `json:"smtp"`
	IMAP  IMAPConfig  `json:"imap"`
	Redis RedisConfig `json:"redis"`

	APIToken          string `json:"-"`
	EncryptionKey     string `json:"-"`
	SentryDSN         string `json:"-"`
	DiscordWebhookURL string `json:"-"`

	// Workers
	WorkersEnabled        bool `json:"workers_enabled"`
	RunIntervalHours      int  `json:"run_interval_hours"`
	ReplyScanIntervalMins int  `json:"reply_scan_interval_mins"`

	// Classifier fallback when no segment rule matches
	DefaultSequenceType string `json:"default_sequence_type"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadpilot"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		SMTP: SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvAsInt("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			FromEmail: getEnv("SMTP_FROM_EMAIL", ""),
			FromName:  getEnv("SMTP_FROM_NAME", "LeadPilot"),
		},
		IMAP: IMAPConfig{
			Host:              getEnv("IMAP_HOST", ""),
			Port:              getEnvAsInt("IMAP_PORT", 993),
			Username:          getEnv("IMAP_USERNAME", ""),
			Password:          getEnv("IMAP_PASSWORD", ""),
			PasswordEncrypted: getEnv("IMAP_PASSWORD_ENCRYPTED", "false") == "true",
			Encryption:        getEnv("IMAP_ENCRYPTION", "SSL"),
		},
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		APIToken:          getEnv("API_TOKEN", ""),
		EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
		SentryDSN:         getEnv("SENTRY_DSN", ""),
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),

		WorkersEnabled:        getEnv("WORKERS_ENABLED", "true") == "true",
		RunIntervalHours:      getEnvAsInt("SEQUENCE_RUN_INTERVAL_HOURS", 24),
		ReplyScanIntervalMins: getEnvAsInt("REPLY_SCAN_INTERVAL_MINS", 5),

		DefaultSequenceType: getEnv("DEFAULT_SEQUENCE_TYPE", "cold_outreach"),
	}

	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.IMAP.PasswordEncrypted && AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required when IMAP_PASSWORD_ENCRYPTED is set")
	}
	if AppConfig.Environment == "production" && AppConfig.APIToken == "" {
		return fmt.Errorf("API_TOKEN is required in production")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("SMTP(%t), IMAP(%t), Redis(%t), Webhook(%t)",
		AppConfig.SMTP.Host != "",
		AppConfig.IMAP.Host != "",
		AppConfig.Redis.Enabled,
		AppConfig.DiscordWebhookURL != "")
}

func migrateDB(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Lead{},
		&models.LeadTag{},
		&models.EmailSequence{},
		&models.SequenceStep{},
		&models.SequenceEnrollment{},
		&models.EmailHistory{},
		&models.ActivityEvent{},
	); err != nil {
		return err
	}

	// Partial unique indexes GORM tags cannot express: one active enrollment
	// per (lead, sequence) pair, and one open aggregate row per bucket key.
	if db.Dialector.Name() == "postgres" {
		stmts := []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollment_active_pair
				ON email_sequence_enrollments (lead_id, sequence_id)
				WHERE completed_at IS NULL AND unenrolled_at IS NULL AND deleted_at IS NULL`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_activity_open_aggregate
				ON activity_feed (aggregation_key)
				WHERE is_aggregated AND deleted_at IS NULL`,
		}
		for _, stmt := range stmts {
			if err := db.Exec(stmt).Error; err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}
	}
	return nil
}
