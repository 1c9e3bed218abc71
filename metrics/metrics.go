package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-checks/types"
)

const (
	MetricsNamespace = "checks"
)

var (
	Debug                bool = true
	validResults              = []types.SessionStatus{types.SessionStatusPass, types.SessionStatusFail, types.SessionStatusSkip}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "sessions_total",
		Help:      "Count of executed check sessions",
	}, []string{
		"run_id",
		"name",
		"kind",
		"result",
	})

	checkRunResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of check runs",
	}, []string{
		"run_id",
		"result",
	})

	checkRunSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_sessions_total",
		Help:      "Total number of sessions in a check run",
	}, []string{
		"run_id",
	})

	checkRunSessionsPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_sessions_passed",
		Help:      "Number of passed sessions in a check run",
	}, []string{
		"run_id",
	})

	checkRunSessionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_sessions_failed",
		Help:      "Number of failed sessions in a check run",
	}, []string{
		"run_id",
	})

	checkRunDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration",
		Help:      "Duration of check runs",
	}, []string{
		"run_id",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

func RecordSession(runID string, name string, kind string, result types.SessionStatus) {
	if !isValidResult(result) {
		log.Error("RecordSession - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "sessions_total",
			"run_id", runID,
			"session", name,
			"kind", kind,
			"result", result)
	}
	sessionsTotal.WithLabelValues(runID, name, kind, string(result)).Inc()
}

func RecordCheckRun(
	runID string,
	result string,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	checkRunResults.WithLabelValues(runID, result).Set(1)
	checkRunSessionsTotal.WithLabelValues(runID).Add(float64(total))
	checkRunSessionsPassed.WithLabelValues(runID).Add(float64(passed))
	checkRunSessionsFailed.WithLabelValues(runID).Add(float64(failed))
	checkRunDuration.WithLabelValues(runID).Set(duration.Seconds())
}

func isValidResult(result types.SessionStatus) bool {
	return slices.Contains(validResults, result)
}
