package ui

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"igfollowers/pkg/models"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
	barWidth      = 20
)

// Bar renders done out of total as a fixed width bar with counts
func Bar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = done * barWidth / total
	}
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	return fmt.Sprintf("[%s%s] %d/%d",
		strings.Repeat(ProgressBar, filled),
		strings.Repeat(ProgressEmpty, barWidth-filled),
		done, total)
}

// Rate returns followers per minute between created and now
func Rate(s *models.StatusSnapshot, now time.Time) float64 {
	end := now
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	elapsed := end.Sub(s.CreatedAt).Minutes()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.FollowersScraped) / elapsed
}

func (p *Printer) status(s models.Status) string {
	switch s {
	case models.StatusCompleted:
		return p.Green(string(s))
	case models.StatusFailed:
		return p.Red(string(s))
	case models.StatusStopped:
		return p.Yellow(string(s))
	default:
		return p.Cyan(string(s))
	}
}

// Progress redraws the single progress line of a job in place
func (p *Printer) Progress(s *models.StatusSnapshot) {
	line := fmt.Sprintf("%s %s %s %s",
		p.Magenta("[@"+s.TargetUsername+"]"),
		Bar(s.FollowersScraped, s.MaxFollowers),
		p.status(s.Status),
		p.Dim(fmt.Sprintf("%.1f/min", Rate(s, time.Now()))))
	if s.ErrorCount > 0 {
		line += " " + p.Yellow(fmt.Sprintf("errors=%d", s.ErrorCount))
	}
	fmt.Fprintf(p.w, "\r%s", line)
}

// Summary prints the final report of a job
func (p *Printer) Summary(s *models.StatusSnapshot, stored int64) {
	fmt.Fprintln(p.w)
	p.Info("Job", fmt.Sprintf("%d", s.ID))
	p.Info("Target", "@"+s.TargetUsername)
	fmt.Fprintf(p.w, "%s: %s\n", p.Cyan("Status"), p.status(s.Status))
	p.Info("Followers scraped", fmt.Sprintf("%d/%d", s.FollowersScraped, s.MaxFollowers))
	if stored >= 0 {
		p.Info("Followers stored", fmt.Sprintf("%d", stored))
	}
	if s.ErrorCount > 0 {
		p.Info("Errors", fmt.Sprintf("%d (last: %s)", s.ErrorCount, s.LastError))
	}
	if s.CompletedAt != nil {
		p.Info("Duration", s.CompletedAt.Sub(s.CreatedAt).Round(time.Second).String())
	}
}

// Jobs prints one row per job
func (p *Printer) Jobs(jobs []*models.StatusSnapshot) {
	if len(jobs) == 0 {
		fmt.Fprintln(p.w, p.Dim("no jobs"))
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tSTATUS\tSCRAPED\tERRORS\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t@%s\t%s\t%d/%d\t%d\t%s\n",
			j.ID, j.TargetUsername, j.Status,
			j.FollowersScraped, j.MaxFollowers,
			j.ErrorCount, j.CreatedAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}
