package ui

import (
	"fmt"
	"text/tabwriter"
	"time"

	"igfollowers/pkg/auth"
	"igfollowers/pkg/session"
)

// Accounts prints stored logins with their passwords masked
func (p *Printer) Accounts(accounts []*auth.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(p.w, p.Dim("no stored accounts"))
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tPASSWORD\tPROXY\tLAST LOGIN\tMODIFIED")
	for _, a := range accounts {
		masked := auth.SanitizeAccount(a)
		proxy := masked.Proxy
		if proxy == "" {
			proxy = "-"
		}
		login := "never"
		if !masked.LastLogin.IsZero() {
			login = masked.LastLogin.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", masked.Username, masked.Password, proxy, login, masked.LastModified.Local().Format(time.DateTime))
	}
	tw.Flush()
}

// Sessions prints the health of each cached session followed by totals
func (p *Printer) Sessions(list []session.Health, stats session.Stats) {
	if len(list) == 0 {
		fmt.Fprintln(p.w, p.Dim("no sessions"))
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATE\tCHALLENGES\tREQUESTS\tPROXY\tLAST USED")
	for _, h := range list {
		state := "ok"
		if h.Invalid {
			state = "invalid"
		}
		proxy := h.Proxy
		if proxy == "" {
			proxy = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
			h.Username, state, h.Challenges, h.Requests, proxy, h.LastUsed.Local().Format(time.DateTime))
	}
	tw.Flush()
	p.Info("Valid", fmt.Sprintf("%d/%d", stats.Valid, stats.Total))
}
