package config

import (
	"os"
)

// Config アプリケーション全体の設定を保持します。
type Config struct {
	Port          string
	Environment   string
	ModelDir      string
	APIKey        string
	AdminUsername string
	AdminPassword string
}

// LoadConfig 環境変数から設定を読み込みます。未設定の項目は既定値になります。
func LoadConfig() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		ModelDir:      getEnv("MODEL_DIR", "model_store"),
		APIKey:        getEnv("API_KEY", ""),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "password"),
	}
}

// getEnv 環境変数を取得し、空の場合はデフォルト値を返します。
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
