package app

import (
	"fmt"
	"strings"
	"time"
)

// StartupSummary is the operator-facing snapshot printed once at boot.
type StartupSummary struct {
	Env      string
	Venue    string
	Session  string
	Embedded bool
	Symbols  []string

	Connection ConnectionSummary
	Execution  ExecutionSummary
	Reconcile  ReconcileSummary

	JournalPath   string
	ReportLogPath string
}

type ConnectionSummary struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
	AutoReconnect  bool
}

type ExecutionSummary struct {
	AckTimeout  time.Duration
	DedupWindow time.Duration
}

type ReconcileSummary struct {
	Enabled             bool
	Offset              time.Duration
	PriceTolerance      float64
	CommissionTolerance float64
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 72))
	fmt.Println("STARTUP SUMMARY")
	fmt.Println(strings.Repeat("=", 72))

	fmt.Println("[GATEWAY]")
	venue := s.Venue
	if s.Embedded {
		venue += " (embedded)"
	}
	fmt.Printf("  venue:   %s\n", venue)
	fmt.Printf("  session: %s\n", s.Session)
	fmt.Printf("  env:     %s\n", s.Env)
	fmt.Println()

	fmt.Println("[INSTRUMENTS]")
	fmt.Printf("  symbols: %s\n", formatList(s.Symbols))
	fmt.Println()

	fmt.Println("[CONNECTION]")
	fmt.Printf("  attempts: %d, backoff %s..%s, auto-reconnect %v\n",
		s.Connection.MaxAttempts, s.Connection.BackoffBase, s.Connection.BackoffCeiling, s.Connection.AutoReconnect)
	fmt.Println()

	fmt.Println("[EXECUTION]")
	fmt.Printf("  ack timeout %s, dedup window %s\n", s.Execution.AckTimeout, s.Execution.DedupWindow)
	fmt.Println()

	fmt.Println("[RECONCILE]")
	if s.Reconcile.Enabled {
		fmt.Printf("  daily at midnight UTC +%s, tolerance price %.4f / commission %.4f\n",
			s.Reconcile.Offset, s.Reconcile.PriceTolerance, s.Reconcile.CommissionTolerance)
	} else {
		fmt.Println("  disabled")
	}
	fmt.Println()

	fmt.Println("[AUDIT]")
	fmt.Printf("  journal: %s\n", s.JournalPath)
	fmt.Printf("  reports: %s\n", s.ReportLogPath)
	fmt.Println(strings.Repeat("=", 72))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
