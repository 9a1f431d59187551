package utils

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger はプロセス全体で共有するロガーです
var Logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// ConfigureLogger はログレベルを設定します
func ConfigureLogger(level logrus.Level) {
	Logger.SetLevel(level)
}

// Component はコンポーネント名付きのログエントリを返します
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

// NopEntry は何も出力しないログエントリを返します（テスト用）
func NopEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// LogInfo は情報レベルのメッセージをログに記録します
func LogInfo(format string, v ...interface{}) {
	Logger.Infof(format, v...)
}

// LogWarn は警告レベルのメッセージをログに記録します
func LogWarn(format string, v ...interface{}) {
	Logger.Warnf(format, v...)
}

// LogError はエラーレベルのメッセージをログに記録します
func LogError(format string, v ...interface{}) {
	Logger.Errorf(format, v...)
}

// TrackTime は関数の実行時間を計測して出力するユーティリティです
func TrackTime(start time.Time, name string) {
	Logger.WithField("elapsed", time.Since(start).String()).Infof("%s 完了", name)
}
