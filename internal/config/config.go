package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// SearchServiceURL: если задан, сервис отправляет заявки в search-service для индексации (POST /search/index/ticket).
	SearchServiceURL string
	// PaymentServiceURL: payment-service, у которого сверяется статус платежа (GET /payments/{id}).
	PaymentServiceURL string

	KafkaBrokers      []string
	KafkaTopicTicket  string
	KafkaTopicPayment string
	KafkaGroupID      string

	// StorageDir: каталог для файлов ответов на подтверждения (сгенерированных и загруженных).
	StorageDir string
	// StaffDirectory: "id:Имя,id2:Имя2", отображаемые имена сотрудников в истории заявки.
	StaffDirectory string

	ManualReasonMinLength int
	CommentMaxLength      int
	BulkMaxItems          int

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:           getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:          firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SearchServiceURL:  getEnv("SEARCH_SERVICE_URL", ""),
		PaymentServiceURL: getEnv("PAYMENT_SERVICE_URL", ""),
		KafkaBrokers:      ParseList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket:  getEnv("KAFKA_TOPIC_TICKET", "certificate-requests.events"),
		KafkaTopicPayment: getEnv("KAFKA_TOPIC_PAYMENT", "payments.status"),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "certificate-request-service"),
		StorageDir:        getEnv("STORAGE_DIR", "storage/responses"),
		StaffDirectory:    getEnv("STAFF_DIRECTORY", ""),
	}
	var err error
	if cfg.ManualReasonMinLength, err = getInt("MANUAL_REASON_MIN_LENGTH", 3); err != nil {
		return nil, err
	}
	if cfg.CommentMaxLength, err = getInt("COMMENT_MAX_LENGTH", 10000); err != nil {
		return nil, err
	}
	if cfg.BulkMaxItems, err = getInt("BULK_MAX_ITEMS", 500); err != nil {
		return nil, err
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "certificate_requests")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	if c.ManualReasonMinLength < 1 {
		return errors.New("config: MANUAL_REASON_MIN_LENGTH must be at least 1")
	}
	if c.CommentMaxLength < 1 || c.BulkMaxItems < 1 {
		return errors.New("config: COMMENT_MAX_LENGTH and BULK_MAX_ITEMS must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopicTicket == "" {
		return errors.New("config: KAFKA_TOPIC_TICKET is required when KAFKA_BROKERS is set")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// ParseList разбивает "a,b , c" на слайс без пустых элементов.
func ParseList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}
