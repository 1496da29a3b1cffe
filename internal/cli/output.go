package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/roach88/capsync/internal/engine"
	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/recovery"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (unrecovered sessions, failed scenarios, invalid config)
	ExitCommandError = 2 // Command error (bad flags, database could not be opened, etc.)
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as JSON envelopes or as text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the JSON envelope for every command result.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`              // "E_CONFIG", "E_TEST_FAILED", etc.
	Message string      `json:"message"`           // human-readable message
	Details interface{} `json:"details,omitempty"` // additional context
}

// ConnectionLog is the connection history of one device. It encodes as the
// bare row list.
type ConnectionLog struct {
	Address string
	Rows    []model.ConnectionHistory
}

// MarshalJSON encodes the rows only; an empty log is [].
func (l ConnectionLog) MarshalJSON() ([]byte, error) {
	if l.Rows == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.Rows)
}

// Success outputs a result. Text output is chosen by the result's type.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	f.renderText(data)
	return nil
}

// Notice prints a progress line in text mode only.
func (f *OutputFormatter) Notice(format string, args ...interface{}) {
	if f.Format == "json" {
		return
	}
	fmt.Fprintf(f.Writer, format+"\n", args...)
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// It writes to ErrWriter so JSON on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) renderText(data interface{}) {
	w := f.Writer
	switch v := data.(type) {
	case recovery.Report:
		writeReport(w, v)
	case []model.SessionState:
		writeSessions(w, v)
	case []model.SensorDevice:
		writeDevices(w, v)
	case ConnectionLog:
		writeConnectionLog(w, v)
	case engine.Metrics:
		writeMetrics(w, v)
	case SimulationResult:
		fmt.Fprintf(w, "Session %s %s\n", v.SessionID, v.State)
		writeMetrics(w, v.Metrics)
		fmt.Fprintf(w, "  Registry:     %s, %d sync ops, max skew %dns\n",
			v.Registry.Grade, v.Registry.TotalSyncOperations, v.Registry.MaxSkewNs)
	case RunSummary:
		m := v.Metrics
		fmt.Fprintf(w, "Stopped. pairs=%d misses=%d dropped=%d max_drift_ns=%d\n",
			m.PairCount, m.CorrelationMisses, m.DroppedFrames, m.MaxDriftNs)
	case PruneResult:
		fmt.Fprintf(w, "Pruned %d session(s) and %d history row(s) older than %d day(s).\n",
			v.SessionsDeleted, v.HistoryDeleted, v.Days)
	default:
		fmt.Fprintln(w, data)
	}
}

func writeReport(w io.Writer, r recovery.Report) {
	if !r.CrashDetected {
		fmt.Fprintln(w, "No crashed sessions.")
	} else {
		fmt.Fprintf(w, "Crash detected: %d recovered, %d failed\n", len(r.Recovered), len(r.Failed))
		for _, id := range r.Recovered {
			fmt.Fprintf(w, "  ✓ %s\n", id)
		}
		for _, id := range r.Failed {
			fmt.Fprintf(w, "  ✗ %s\n", id)
		}
	}
	fmt.Fprintf(w, "Artifacts deleted: %d\n", r.FilesDeleted)
	fmt.Fprintf(w, "Sessions pruned:   %d\n", r.SessionsPruned)
}

func writeSessions(w io.Writer, sessions []model.SessionState) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %-9s  created %s  devices %d\n",
			s.SessionID, s.RecordingState, formatMs(s.CreatedAt), len(s.DeviceStates))
		if s.UndecodedDevices != "" {
			fmt.Fprintf(w, "  devices: undecodable %q\n", s.UndecodedDevices)
		}
		if s.ErrorOccurred {
			fmt.Fprintf(w, "  error: %s\n", s.ErrorMessage)
		}
	}
}

func writeDevices(w io.Writer, devices []model.SensorDevice) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}
	for _, d := range devices {
		state := "disconnected"
		if d.Connected {
			state = "connected"
		}
		fmt.Fprintf(w, "%s  %-16s  %-12s  %s  battery %d%%  %.0f Hz\n",
			d.Address, d.Name, d.ConnectionType, state, d.BatteryLevel, d.SamplingRate)
	}
}

func writeConnectionLog(w io.Writer, l ConnectionLog) {
	if len(l.Rows) == 0 {
		fmt.Fprintf(w, "No connection history for %s.\n", l.Address)
		return
	}
	for _, h := range l.Rows {
		mark := "✓"
		if !h.Success {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s %-10s %dms", formatMs(h.Timestamp), mark, h.Action, h.DurationMs)
		if h.ErrorMessage != "" {
			fmt.Fprintf(w, "  %s", h.ErrorMessage)
		}
		fmt.Fprintln(w)
	}
}

func writeMetrics(w io.Writer, m engine.Metrics) {
	fmt.Fprintf(w, "  Frames:       video=%d raw=%d bio=%d\n",
		m.Counts[model.ModalityVideo.String()],
		m.Counts[model.ModalityRawFrame.String()],
		m.Counts[model.ModalityBioSignal.String()])
	fmt.Fprintf(w, "  Pairs:        %d (%.1f%% accuracy)\n", m.PairCount, m.SyncAccuracyPercent)
	fmt.Fprintf(w, "  Drift:        avg %.0fns, max %dns, within tolerance: %v\n",
		m.AvgDriftNs, m.MaxDriftNs, m.WithinTolerance)
	fmt.Fprintf(w, "  Bio synced:   %d\n", m.BioSamplesSynced)
	fmt.Fprintf(w, "  Misses:       %d, dropped: %d\n", m.CorrelationMisses, m.DroppedFrames)
}

// formatMs renders wall-clock milliseconds in UTC; zero prints as "-".
func formatMs(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
