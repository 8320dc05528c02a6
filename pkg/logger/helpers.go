package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs an outbound HTTP request at a level picked from the status code
func LogRequest(l Logger, method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration":    duration,
	}

	switch {
	case statusCode >= 500 || statusCode == 0:
		OrDefault(l).ErrorWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		OrDefault(l).WarnWithFields("HTTP request client error", fields)
	default:
		OrDefault(l).DebugWithFields("HTTP request completed", fields)
	}
}

// LogRateLimit logs a rate limit cooldown
func LogRateLimit(l Logger, session string, cooldown time.Duration) {
	OrDefault(l).WithFields(map[string]interface{}{
		"session":  session,
		"cooldown": cooldown,
		"action":   "rate_limited",
	}).Warn("Rate limit reached, cooling down")
}

// LogScrapeProgress logs how far a job has come toward its cap
func LogScrapeProgress(l Logger, jobID uint, target string, scraped, max int) {
	percentage := 0.0
	if max > 0 {
		percentage = float64(scraped) / float64(max) * 100
	}

	OrDefault(l).WithFields(map[string]interface{}{
		"job_id":     jobID,
		"target":     target,
		"scraped":    scraped,
		"max":        max,
		"percentage": fmt.Sprintf("%.1f%%", percentage),
	}).Info("Scraping progress")
}

// LogComponentStart logs when a component starts
func LogComponentStart(l Logger, component string, config map[string]interface{}) {
	log := OrDefault(l).WithField("component", component)
	if len(config) > 0 {
		log = log.WithFields(config)
	}
	log.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(l Logger, component string, reason string) {
	OrDefault(l).WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (n *nopLogger) Debug(string)                                       {}
func (n *nopLogger) Info(string)                                        {}
func (n *nopLogger) Warn(string)                                        {}
func (n *nopLogger) Error(string)                                       {}
func (n *nopLogger) Fatal(string)                                       {}
func (n *nopLogger) WithField(string, interface{}) Logger               { return n }
func (n *nopLogger) WithFields(map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(error) Logger                             { return n }
func (n *nopLogger) WithContext(context.Context) Logger                 { return n }
func (n *nopLogger) DebugWithFields(string, map[string]interface{})     {}
func (n *nopLogger) InfoWithFields(string, map[string]interface{})      {}
func (n *nopLogger) WarnWithFields(string, map[string]interface{})      {}
func (n *nopLogger) ErrorWithFields(string, map[string]interface{})     {}
func (n *nopLogger) FatalWithFields(string, map[string]interface{})     {}
func (n *nopLogger) GetZerolog() *zerolog.Logger                        { return nil }
