// Package refresh keeps the current code of enrolled secrets up to date for
// display.
//
// A Manager is owned by the hosting application and runs one timer per id.
// Each timer is started and stopped explicitly and never shares state with the
// others:
//
//	m := refresh.NewManager()
//	defer m.Close()
//
//	err := m.Start(ctx, "alice", gen, func(ctx context.Context, u refresh.Update) {
//	    fmt.Printf("%s: %s (%v left)\n", u.ID, u.Code, u.Remaining)
//	})
//
//	m.Stop("alice")
//
// LoadConfig reads the list of accounts from a file for hosts that refresh a
// fixed set of secrets.
package refresh
