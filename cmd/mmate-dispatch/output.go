package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/glimte/mmate-dispatch/health"
	"github.com/glimte/mmate-dispatch/outbound"
)

const (
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
)

func statusStyle(status health.Status) lipgloss.Style {
	switch status {
	case health.StatusHealthy:
		return successStyle
	case health.StatusDegraded:
		return warningStyle
	default:
		return errorStyle
	}
}

func printHealth(w io.Writer, overall health.OverallHealth) {
	fmt.Fprintf(w, "Overall: %s (%s)\n", statusStyle(overall.Status).Render(string(overall.Status)), overall.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, strings.Repeat("-", 60))

	names := make([]string, 0, len(overall.Checks))
	for name := range overall.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		check := overall.Checks[name]
		fmt.Fprintf(w, "%-40s %s\n", truncate(name, 40), statusStyle(check.Status).Render(string(check.Status)))
		if check.Message != "" {
			fmt.Fprintf(w, "  %s\n", mutedStyle.Render(check.Message))
		}
		if check.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", check.Error)
		}
	}
}

func printReply(w io.Writer, reply *outbound.Message) {
	fmt.Fprintf(w, "%s from %q routing key %q\n", successStyle.Render("reply"), reply.Exchange, reply.RoutingKey)
	if reply.Properties.CorrelationID != "" {
		fmt.Fprintf(w, "  Correlation ID: %s\n", reply.Properties.CorrelationID)
	}
	if reply.Properties.ContentType != "" {
		fmt.Fprintf(w, "  Content Type: %s\n", reply.Properties.ContentType)
	}
	if len(reply.Properties.Headers) > 0 {
		keys := make([]string, 0, len(reply.Properties.Headers))
		for k := range reply.Properties.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "  Headers:\n")
		for _, k := range keys {
			fmt.Fprintf(w, "    %s: %v\n", k, reply.Properties.Headers[k])
		}
	}
	fmt.Fprintln(w, string(reply.Body))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
