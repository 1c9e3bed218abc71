package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/op-checks/types"
)

const (
	RunDirectoryPrefix = "checkrun-" // Standardized prefix for run directories
)

// ResultSink is an interface for different ways of consuming session results
type ResultSink interface {
	// Consume processes a single session result
	Consume(result *types.SessionResult, runID string) error
	// Complete is called when all results have been consumed
	Complete(runID string) error
}

// FileLogger handles writing session output to files
type FileLogger struct {
	baseDir      string                // Base directory for logs
	logDir       string                // Root log directory for this run
	summaryFile  string                // Path to the summary file
	mu           sync.Mutex            // Protects concurrent file operations
	sinks        []ResultSink          // Collection of result consumers
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string                // Current run ID
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(filepath string) (*AsyncFile, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filepath, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100), // Buffer channel to reduce blocking
	}

	// Start the background writer
	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	// Make a copy of the data to avoid race conditions
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	// Send data to the queue
	af.queue <- dataCopy
	return nil
}

// processQueue processes the write queue in the background
func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		_, err := af.file.Write(data)
		if err != nil {
			// Log the error but continue processing
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	// Wait for all writes to complete
	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates a new FileLogger with given configuration
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	// Use the standardized prefix for the run directory
	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	summaryFile := filepath.Join(logDir, "summary.log")

	for _, dir := range []string{baseDir, logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger := &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		summaryFile:  summaryFile,
		sinks:        make([]ResultSink, 0),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}

	// Initialize the AllLogsFileSink
	allLogsSink := &AllLogsFileSink{logger: logger}
	logger.sinks = append(logger.sinks, allLogsSink)

	return logger, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Check if we already have a writer for this path
	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}

	// Create a new writer
	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}

	// Store it for future use
	l.asyncWriters[path] = writer
	return writer, nil
}

// closeAllWriters closes all async writers
func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close() // Ignore errors on close
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// GetRunID returns the run ID this logger writes under
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetLogDir returns the log directory for this check run
func (l *FileLogger) GetLogDir() string {
	return l.logDir
}

// GetDirectoryForRunID returns the path for a specific runID
// The runID must be provided, otherwise an error is returned
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	// If the runID matches the logger's current runID, return logDir
	if runID == l.runID {
		return l.logDir, nil
	}
	// Always use the standardized prefix for run directories
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID), nil
}

// GetSummaryFileForRunID returns the summary file for a specific runID
// The runID must be provided, otherwise an error is returned
func (l *FileLogger) GetSummaryFileForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	baseDir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "summary.log"), nil
}

// GetAllLogsFileForRunID returns the path to the all.log file for the given runID
func (l *FileLogger) GetAllLogsFileForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	baseDir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "all.log"), nil
}

// SessionLogWriter returns a writer that streams a session's command output
// to its own log file. ANSI escape sequences are stripped so the files stay
// grep-able; the writer remains valid until Complete is called.
func (l *FileLogger) SessionLogWriter(sessionName string) (io.Writer, error) {
	path := filepath.Join(l.logDir, safeFilename(sessionName)+".log")
	writer, err := l.getAsyncWriter(path)
	if err != nil {
		return nil, err
	}
	return &sessionLogWriter{file: writer}, nil
}

// RawMessageWriter returns a writer for a session's raw toolchain message
// stream. The stream is preserved verbatim for later inspection, so nothing
// is stripped or reformatted.
func (l *FileLogger) RawMessageWriter(sessionName string) (io.Writer, error) {
	path := filepath.Join(l.logDir, safeFilename(sessionName)+"_raw_messages.log")
	writer, err := l.getAsyncWriter(path)
	if err != nil {
		return nil, err
	}
	return &rawMessageWriter{file: writer}, nil
}

// LogSessionResult processes a session result through all registered sinks
// If runID is provided, it will log to that specific run directory
func (l *FileLogger) LogSessionResult(result *types.SessionResult, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	// Feed session result to all sinks
	for _, sink := range l.sinks {
		if err := sink.Consume(result, runID); err != nil {
			return fmt.Errorf("error in sink: %w", err)
		}
	}

	return nil
}

// LogSummary writes a summary of the check run to a file
// The runID must be provided, otherwise an error is returned
func (l *FileLogger) LogSummary(summary string, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	// Get the summary file path for this runID
	summaryFile, err := l.GetSummaryFileForRunID(runID)
	if err != nil {
		return err
	}

	// Get or create the async writer
	writer, err := l.getAsyncWriter(summaryFile)
	if err != nil {
		return err
	}

	// Write the summary
	return writer.Write([]byte(summary))
}

// Complete finalizes all sinks and closes all file writers
func (l *FileLogger) Complete(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	for _, sink := range l.sinks {
		if err := sink.Complete(runID); err != nil {
			return fmt.Errorf("error completing sink: %w", err)
		}
	}

	// Close all writers after completion
	l.closeAllWriters()

	return nil
}

// sessionLogWriter adapts an AsyncFile to io.Writer, stripping terminal
// escape sequences on the way through.
type sessionLogWriter struct {
	file *AsyncFile
}

func (w *sessionLogWriter) Write(p []byte) (int, error) {
	if err := w.file.Write([]byte(stripANSIEscapeSequences(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// rawMessageWriter adapts an AsyncFile to io.Writer without modification.
type rawMessageWriter struct {
	file *AsyncFile
}

func (w *rawMessageWriter) Write(p []byte) (int, error) {
	if err := w.file.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// stripANSIEscapeSequences removes terminal color and cursor control
// sequences from command output
func stripANSIEscapeSequences(s string) string {
	return stripansi.Strip(s)
}

// Helper functions

// safeFilename converts a string to a safe filename by replacing problematic characters
func safeFilename(s string) string {
	// Replace characters that might be problematic in filenames
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "*", "_")
	s = strings.ReplaceAll(s, "?", "_")
	s = strings.ReplaceAll(s, "\"", "_")
	s = strings.ReplaceAll(s, "<", "_")
	s = strings.ReplaceAll(s, ">", "_")
	s = strings.ReplaceAll(s, "|", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// Sink implementations

// AllLogsFileSink writes all session results to a single "all.log" file
type AllLogsFileSink struct {
	logger *FileLogger
}

// Consume writes a session result to the all.log file
func (s *AllLogsFileSink) Consume(result *types.SessionResult, runID string) error {
	// Get the all.log file path for this runID
	allLogsFile, err := s.logger.GetAllLogsFileForRunID(runID)
	if err != nil {
		return err
	}

	// Get or create the async writer
	writer, err := s.logger.getAsyncWriter(allLogsFile)
	if err != nil {
		return err
	}

	var content strings.Builder

	// Create a clear header with visual distinction
	fmt.Fprintf(&content, "\n")
	fmt.Fprintf(&content, "┌─────────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&content, "│ SESSION: %-61s │\n", truncateString(result.Name, 61))
	fmt.Fprintf(&content, "├─────────────────────────────────────────────────────────────────────┤\n")

	// Add session metadata in a structured format
	fmt.Fprintf(&content, "│ Status:   %-62s │\n", result.Status)
	fmt.Fprintf(&content, "│ Kind:     %-62s │\n", truncateString(string(result.Kind), 62))
	fmt.Fprintf(&content, "│ Duration: %-62s │\n", result.Duration)
	fmt.Fprintf(&content, "│ Time:     %-62s │\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&content, "└─────────────────────────────────────────────────────────────────────┘\n\n")

	// Add the error in a clearly marked section
	if result.Error != nil {
		fmt.Fprintf(&content, "ERROR:\n")
		fmt.Fprintf(&content, "~~~~~~\n")
		fmt.Fprintf(&content, "%s\n\n", result.Error.Error())
	}

	// Write the content to the file
	return writer.Write([]byte(content.String()))
}

// Complete is a no-op for AllLogsFileSink
func (s *AllLogsFileSink) Complete(runID string) error {
	return nil
}

// truncateString truncates a string to maxLen characters, adding an ellipsis marker
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
