package utils

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"pivotaltoshortcut/config"
)

// Bootstrap は設定を読み込み、ログレベルを設定します。debug が true なら DEBUG レベル
func Bootstrap(debug bool) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, WithCode(ExitValidation, fmt.Errorf("設定の読み込みに失敗しました: %w", err))
	}
	level := cfg.LogrusLevel()
	if debug {
		level = logrus.DebugLevel
	}
	ConfigureLogger(level)
	return cfg, nil
}

// RequireToken はAPIトークンが設定されているか確認します
func RequireToken(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return WithCode(ExitValidation, err)
	}
	return nil
}

// Exit はエラーを出力し、対応する終了コードでプロセスを終了します
func Exit(err error) {
	if err == nil {
		return
	}
	LogError("%v", err)
	os.Exit(ExitCode(err))
}
