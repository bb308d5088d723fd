// Package envutil reads and validates configuration from environment variables.
package envutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/logger"
)

var envutilLog = logger.New("envutil:envutil")

// GetIntFromEnv reads an integer from envVar, falling back to defaultValue
// when the variable is unset, unparsable, or outside [minValue, maxValue].
// Invalid values print a warning to stderr.
func GetIntFromEnv(envVar string, defaultValue, minValue, maxValue int, log *logger.Logger) int {
	envValue := os.Getenv(envVar)
	if envValue == "" {
		return defaultValue
	}

	val, err := strconv.Atoi(envValue)
	if err != nil {
		fmt.Fprintln(os.Stderr, console.FormatWarningMessage(
			fmt.Sprintf("Invalid %s value '%s' (must be a number), using default %d", envVar, envValue, defaultValue),
		))
		return defaultValue
	}

	if val < minValue || val > maxValue {
		fmt.Fprintln(os.Stderr, console.FormatWarningMessage(
			fmt.Sprintf("%s value %d is out of bounds (must be %d-%d), using default %d", envVar, val, minValue, maxValue, defaultValue),
		))
		return defaultValue
	}

	if log != nil {
		log.Printf("Using %s=%d", envVar, val)
	}
	return val
}

// MaxParallel returns how many job instances may run at once locally.
func MaxParallel() int {
	return GetIntFromEnv(constants.MaxParallelEnvVar, constants.DefaultMaxParallel,
		constants.MinMaxParallel, constants.MaxMaxParallel, envutilLog)
}

// CacheDir returns the directory holding local dependency caches:
// GH_CI_CACHE_DIR when set, else <user cache dir>/gh-ci.
func CacheDir() (string, error) {
	if dir := os.Getenv(constants.CacheDirEnvVar); dir != "" {
		envutilLog.Printf("Using cache dir from %s: %s", constants.CacheDirEnvVar, dir)
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user cache directory: %w", err)
	}
	return filepath.Join(base, constants.CLIName), nil
}
