// Package env consolidates all environment variable reading for the tool.
// Values may come from the process environment or a .env file loaded by main.
package env

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names (single source of truth)
const (
	OutputDirVar    = "PAYLOADX_OUTPUT_DIR"
	LogLevelVar     = "PAYLOADX_LOG_LEVEL"
	SniffHorizonVar = "PAYLOADX_SNIFF_HORIZON"
)

const (
	DefaultOutputDir    = "extracted"
	DefaultLogLevel     = "INFO"
	DefaultSniffHorizon = 1024
)

// OutputDir returns PAYLOADX_OUTPUT_DIR with default "extracted".
func OutputDir() string {
	if v := strings.TrimSpace(os.Getenv(OutputDirVar)); v != "" {
		return v
	}
	return DefaultOutputDir
}

// LogLevel returns PAYLOADX_LOG_LEVEL with default "INFO".
func LogLevel() string {
	if v := strings.TrimSpace(os.Getenv(LogLevelVar)); v != "" {
		return v
	}
	return DefaultLogLevel
}

// SniffHorizon returns PAYLOADX_SNIFF_HORIZON, falling back to the default for
// missing, malformed or non-positive values.
func SniffHorizon() int {
	return intOr(SniffHorizonVar, DefaultSniffHorizon)
}

func intOr(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
