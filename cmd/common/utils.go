package common

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/trading-risk-engine/internal/logger"
)

// LoadEnvFile loads environment variables from path. A missing file is not
// an error; variables already set in the process are kept.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug(context.Background(), "Environment file not found, using system environment", "path", path)
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load environment file %s: %w", path, err)
	}

	logger.Debug(context.Background(), "Environment loaded", "path", path)
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
