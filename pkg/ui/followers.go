package ui

import (
	"fmt"
	"text/tabwriter"

	"igfollowers/pkg/models"
)

// Followers prints one window of stored followers and where it sits in the total
func (p *Printer) Followers(page *models.FollowerPage) {
	if len(page.Followers) == 0 {
		fmt.Fprintln(p.w, p.Dim(fmt.Sprintf("no followers at offset %d of %d", page.Offset, page.Total)))
		return
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tFULL NAME\tFOLLOWERS\tFOLLOWING\tPOSTS\tFLAGS")
	for _, f := range page.Followers {
		fmt.Fprintf(tw, "@%s\t%s\t%d\t%d\t%d\t%s\n",
			f.Username, f.FullName, f.FollowerCount, f.FollowingCount, f.PostCount, flags(f))
	}
	tw.Flush()

	first := page.Offset + 1
	fmt.Fprintln(p.w, p.Dim(fmt.Sprintf("%d-%d of %d", first, page.Offset+len(page.Followers), page.Total)))
}

func flags(f *models.Follower) string {
	var out string
	add := func(s string) {
		if out != "" {
			out += ","
		}
		out += s
	}
	if f.IsPrivate {
		add("private")
	}
	if f.IsVerified {
		add("verified")
	}
	if f.IsBusinessAccount {
		add("business")
	}
	if out == "" {
		return "-"
	}
	return out
}
