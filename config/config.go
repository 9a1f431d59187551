package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Shortcut API設定
	APIToken              string        `env:"SHORTCUT_API_TOKEN"`
	APIURL                string        `env:"SHORTCUT_API_URL" envDefault:"https://api.app.shortcut.com/api/v3"`
	GroupID               string        `env:"SHORTCUT_GROUP_ID"`
	PriorityCustomFieldID string        `env:"SHORTCUT_PRIORITY_CUSTOM_FIELD_ID"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	MaxRetries            int           `env:"MAX_RETRIES" envDefault:"3"`
	RateLimit             string        `env:"RATE_LIMIT" envDefault:"200-M"`

	// ファイルパス
	PivotalCSV          string `env:"PT_CSV_FILE" envDefault:"data/pivotal_export.csv"`
	UsersCSV            string `env:"USERS_CSV_FILE" envDefault:"data/users.csv"`
	StatesCSV           string `env:"STATES_CSV_FILE" envDefault:"data/states.csv"`
	PrioritiesCSV       string `env:"PRIORITIES_CSV_FILE" envDefault:"data/priorities.csv"`
	DataDir             string `env:"DATA_DIR" envDefault:"data"`
	ImportedEntitiesCSV string `env:"IMPORTED_ENTITIES_CSV" envDefault:"data/shortcut_imported_entities.csv"`
	PivotalDumpDB       string `env:"PIVOTAL_DUMP_DB" envDefault:"pivotal_dump.db"`
	ReportFile          string `env:"REPORT_FILE"`
	MetricsFile         string `env:"METRICS_FILE"`

	// 処理設定
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"100"`
	DeleteDelay time.Duration `env:"DELETE_DELAY" envDefault:"500ms"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
}

// ErrMissingToken はAPIトークン未設定を表します
var ErrMissingToken = errors.New("SHORTCUT_API_TOKEN が設定されていません")

// LoadConfig は .env / .env.local と環境変数から設定を読み込みます
func LoadConfig() (*Config, error) {
	if err := loadEnvFiles([]string{".env", ".env.local"}); err != nil {
		return nil, fmt.Errorf(".envファイル読み込みエラー: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("環境変数解析エラー: %w", err)
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_SIZE は1以上である必要があります: %d", cfg.BatchSize)
	}

	return cfg, nil
}

// 存在するファイルだけを godotenv に渡す
func loadEnvFiles(files []string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Validate はAPI呼び出しに必要な設定が揃っているか確認します
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIToken) == "" {
		return ErrMissingToken
	}
	return nil
}

// LogrusLevel は LOG_LEVEL を logrus のレベルに変換します。不明な値は info
func (c *Config) LogrusLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
