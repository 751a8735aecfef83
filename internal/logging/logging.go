package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath builds a timestamped per-run log file path for a service.
func LogFilePath(logsDir, serviceName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", serviceName, sessionStart.Format("20060102_150405")),
	)
}
