package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WarehouseStoreID int64

	AuthSecret            string
	AccessTokenTTLMinutes int

	LogLevel string

	BarcodeProvider   string
	BarcodeBaseURL    string
	BarcodeMaxRetries int

	StorageProvider string
	GCSBucket       string
	CredentialsJSON string

	BarcodeFolderID   string
	OrderTemplateID   string
	BarcodeTemplateID string
}

func Load() Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	warehouseID, err := strconv.ParseInt(getEnv("WAREHOUSE_STORE_ID", "4"), 10, 64)
	if err != nil || warehouseID < 1 {
		warehouseID = 4
	}
	barcodeRetries, err := strconv.Atoi(getEnv("BARCODE_MAX_RETRIES", "3"))
	if err != nil || barcodeRetries < 1 {
		barcodeRetries = 3
	}

	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		WarehouseStoreID: warehouseID,

		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,

		LogLevel: getEnv("LOG_LEVEL", "info"),

		BarcodeProvider:   getEnv("BARCODE_PROVIDER", "api"),
		BarcodeBaseURL:    getEnv("BARCODE_BASE_URL", "https://barcodeapi.org/api/128"),
		BarcodeMaxRetries: barcodeRetries,

		StorageProvider: getEnv("STORAGE_PROVIDER", "drive"),
		GCSBucket:       os.Getenv("GCS_BUCKET"),
		CredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),

		BarcodeFolderID:   os.Getenv("BARCODE_FOLDER_ID"),
		OrderTemplateID:   os.Getenv("ORDER_TEMPLATE_DOC_ID"),
		BarcodeTemplateID: os.Getenv("BARCODE_TEMPLATE_DOC_ID"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
