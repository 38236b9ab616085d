package e2eutil

import (
	"os"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/canonical/mongodb-k8s-tests/pkg/util/generate"
)

// logFileEnv optionally redirects the suite's logs to a rotating file,
// which is handy when collecting artifacts from CI runs.
const logFileEnv = "E2E_LOG_FILE"

// ConfigureLogger builds the suite logger and installs it as the zap
// global. By default logs go to the console; when E2E_LOG_FILE is set
// they are written as JSON to a rotating file instead.
func ConfigureLogger() (*zap.Logger, error) {
	var log *zap.Logger
	var err error

	if path := os.Getenv(logFileEnv); path != "" {
		log = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&lumberjack.Logger{Filename: path, MaxBackups: 5}),
			zap.DebugLevel,
		), zap.Development())
	} else {
		log, err = zap.NewDevelopmentConfig().Build()
		if err != nil {
			return nil, err
		}
	}

	zap.ReplaceGlobals(log)
	return log, nil
}

// GenerateCollectionID returns a random collection name so that repeated
// scenario runs against the same model never collide on leftover data.
func GenerateCollectionID() (string, error) {
	suffix, err := generate.RandomValidDNS1123Label(8)
	if err != nil {
		return "", err
	}
	return "collection-" + suffix, nil
}

// TestDocuments returns the fixed documents written during the data
// consistency and persistence checks.
func TestDocuments() []interface{} {
	return []interface{}{
		bson.M{"name": "pi", "value": 3.14159},
		bson.M{"name": "e", "value": 2.71828},
	}
}
