package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// DebugLogger provides verbose debug logging with hex dump capability.
// It writes to a dedicated debug.log file and is intended for troubleshooting
// connection and rendering issues: dropped sessions, pty failures, malformed
// terminal input.
type DebugLogger struct {
	file    *os.File
	mu      sync.Mutex
	closed  bool
	filters map[string]bool // component filters (empty = log all)
}

// Global debug logger instance
var globalDebugLogger *DebugLogger
var globalDebugMu sync.RWMutex

// Known component names for filtering.
var knownComponents = []string{
	"sshd",
	"auth",
	"session",
	"ptybridge",
	"render",
	"tuihost",
	"telemetry",
	"adminhttp",
	"debug",
}

// NewDebugLogger creates a new debug logger that writes to the specified path.
// The file is created fresh (truncated if it exists) for each run.
func NewDebugLogger(path string) (*DebugLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log file: %w", err)
	}

	logger := &DebugLogger{
		file:    file,
		filters: make(map[string]bool),
	}

	logger.Log("DEBUG", "Debug logging started - %s", time.Now().Format(time.RFC3339))
	logger.Log("DEBUG", "========================================")

	return logger, nil
}

// SetFilter sets the component filter for logging.
// The filter can be a single component or comma-separated list.
// Empty string means log all components. Components are matched
// case-insensitively.
func (l *DebugLogger) SetFilter(filter string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.filters = make(map[string]bool)

	if filter == "" {
		return // Empty filter = log all
	}

	components := strings.Split(filter, ",")
	for _, c := range components {
		c = strings.TrimSpace(strings.ToLower(c))
		if c != "" {
			l.filters[c] = true
			// sshd and auth are reported together; filtering one implies the other
			switch c {
			case "sshd":
				l.filters["auth"] = true
			case "auth":
				l.filters["sshd"] = true
			}
		}
	}

	if len(l.filters) > 0 {
		filterList := make([]string, 0, len(l.filters))
		for c := range l.filters {
			filterList = append(filterList, c)
		}
		timestamp := time.Now().Format("2006-01-02 15:04:05.000")
		fmt.Fprintf(l.file, "%s [DEBUG] Filtering enabled for components: %s\n",
			timestamp, strings.Join(filterList, ", "))
	}
}

// shouldLog returns true if the component should be logged based on the
// current filter. Must be called with l.mu held.
func (l *DebugLogger) shouldLog(component string) bool {
	if len(l.filters) == 0 {
		return true
	}

	componentLower := strings.ToLower(component)
	if l.filters[componentLower] {
		return true
	}

	if componentLower == "debug" {
		return true
	}

	return false
}

// SetGlobalDebugLogger sets the global debug logger instance.
func SetGlobalDebugLogger(logger *DebugLogger) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLogger = logger
}

// GetGlobalDebugLogger returns the global debug logger instance.
func GetGlobalDebugLogger() *DebugLogger {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLogger
}

// Log writes a formatted message with timestamp and component prefix.
func (l *DebugLogger) Log(component, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	if !l.shouldLog(component) {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "%s [%s] %s\n", timestamp, component, msg)
}

// LogTX logs transmitted bytes with a hex dump.
func (l *DebugLogger) LogTX(component string, data []byte) {
	if l == nil {
		return
	}
	l.logPacket(component, "TX", data)
}

// LogRX logs received bytes with a hex dump.
func (l *DebugLogger) LogRX(component string, data []byte) {
	if l == nil {
		return
	}
	l.logPacket(component, "RX", data)
}

func (l *DebugLogger) logPacket(component, direction string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	if !l.shouldLog(component) {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [%s] %s (%d bytes):\n", timestamp, component, direction, len(data))
	fmt.Fprintf(l.file, "%s\n", hexDump(data))
}

// LogConnect logs a session connect event.
func (l *DebugLogger) LogConnect(component, address string) {
	l.Log(component, "CONNECT from %s", address)
}

// LogConnectSuccess logs a successful session start.
func (l *DebugLogger) LogConnectSuccess(component, address, details string) {
	l.Log(component, "CONNECTED from %s - %s", address, details)
}

// LogConnectError logs a failed connection attempt.
func (l *DebugLogger) LogConnectError(component, address string, err error) {
	l.Log(component, "CONNECT FAILED from %s: %v", address, err)
}

// LogDisconnect logs a session teardown.
func (l *DebugLogger) LogDisconnect(component, address, reason string) {
	l.Log(component, "DISCONNECT from %s: %s", address, reason)
}

// LogError logs an error with context.
func (l *DebugLogger) LogError(component, context string, err error) {
	l.Log(component, "ERROR in %s: %v", context, err)
}

// Close closes the debug log file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [DEBUG] Debug logging ended\n", timestamp)

	return l.file.Close()
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return "    (empty)"
	}

	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		sb.WriteString(fmt.Sprintf("    %04X: ", offset))

		for i := 0; i < 8; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")

		for i := 8; i < 16; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")

		for i := 0; i < 16; i++ {
			if offset+i < len(data) {
				b := data[offset+i]
				if b >= 32 && b < 127 {
					sb.WriteByte(b)
				} else {
					sb.WriteByte('.')
				}
			}
		}
		sb.WriteString("\n")
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

// Global debug logging functions for use by package code throughout the module.

// DebugLog logs a message if debug logging is enabled.
func DebugLog(component, format string, args ...interface{}) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.Log(component, format, args...)
	}
}

// DebugTX logs transmitted data if debug logging is enabled.
func DebugTX(component string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogTX(component, data)
	}
}

// DebugRX logs received data if debug logging is enabled.
func DebugRX(component string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogRX(component, data)
	}
}

// DebugConnect logs a connection attempt if debug logging is enabled.
func DebugConnect(component, address string) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogConnect(component, address)
	}
}

// DebugConnectSuccess logs a successful connection if debug logging is enabled.
func DebugConnectSuccess(component, address, details string) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogConnectSuccess(component, address, details)
	}
}

// DebugConnectError logs a connection error if debug logging is enabled.
func DebugConnectError(component, address string, err error) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogConnectError(component, address, err)
	}
}

// DebugDisconnect logs a disconnection if debug logging is enabled.
func DebugDisconnect(component, address, reason string) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogDisconnect(component, address, reason)
	}
}

// DebugError logs an error if debug logging is enabled.
func DebugError(component, context string, err error) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogError(component, context, err)
	}
}
