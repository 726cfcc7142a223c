// Package clusterconfig is a read-only client for a cluster config
// service. A Client mirrors one zone, a hierarchical settings tree kept by
// the service, and overlays it with settings files from a local folder.
//
// Queries never touch the network. The first query for a path registers
// interest in it and waits for the background loop to fetch it; later
// queries read the latest snapshot:
//
//	s := clusterconfig.DefaultSettings()
//	s.Zone = "billing"
//	client, err := clusterconfig.NewWithSettings(s)
//	if err != nil {
//	    return err
//	}
//	defer client.Dispose()
//
//	node, err := client.Get(ctx, "db/primary")
//
// Observe returns a Watch that yields every distinct value of a path.
//
// Snapshots are immutable and versioned. Versions seen through one
// client never go backwards. Only the first update cycle's failure is
// reported to callers; afterwards failures are logged and the last good
// settings keep being served.
package clusterconfig
