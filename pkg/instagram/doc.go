// Package instagram implements source.Source against the private mobile API.
//
// This package includes:
//   - A Source that logs in and restores sessions from saved state
//   - A Client with cookie-based sessions and optional proxying
//   - Classification of API errors into errors.Kind values
//   - Challenge handling for verification demanded during login
//
// Example usage:
//
//	src := instagram.NewSource(instagram.Options{Timeout: 30 * time.Second})
//
//	client, err := src.Authenticate(ctx, source.Credentials{
//	    Username: "me",
//	    Password: "secret",
//	}, "")
//	if ce, ok := source.AsChallenge(err); ok {
//	    // select a method, wait for approval, then confirm
//	    _ = ce.Challenge.Select(ctx, ce.Challenge.Methods()[0])
//	    client, err = ce.Challenge.Confirm(ctx)
//	}
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	page, err := client.Followers(ctx, "target", "")
package instagram
