package analytics

import (
	"context"
	"os"

	"github.com/mohitkumar/loanflow/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	enccoderConfig := zap.NewProductionEncoderConfig()
	enccoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	enccoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(enccoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) Record(ctx context.Context, entry model.AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lc.logger.Info("audit",
		zap.String("entityType", entry.EntityType),
		zap.String("entityId", entry.EntityId),
		zap.String("actor", entry.Actor),
		zap.String("action", entry.Action),
		zap.Time("at", entry.Timestamp),
		zap.Any("before", entry.Before),
		zap.Any("after", entry.After),
	)
	return nil
}

func (lc *LogFileDataCollector) Sync() error {
	return lc.logger.Sync()
}
