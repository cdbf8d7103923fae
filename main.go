// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("go-offsync - Offline-First Synchronization Library")
	fmt.Println("==================================================")
	fmt.Println()
	fmt.Println("go-offsync keeps a local SQLite replica of server-hosted table data,")
	fmt.Println("queues local mutations while offline, and pushes them to a sync server.")
	fmt.Println("Rejected pushes become durable operation errors that the application")
	fmt.Println("resolves explicitly: accept the server's version, discard the local copy,")
	fmt.Println("or adjust the pending operation and retry.")
	fmt.Println()
	fmt.Println("Packages:")
	fmt.Println()
	fmt.Println("  offsqlite/  SQLite client: operation queue, conflict records,")
	fmt.Println("              resolution actions, background push engine")
	fmt.Println("  offsync/    Postgres sync server: versioned item store, upload")
	fmt.Println("              endpoint with per-change verdicts, JWT auth")
}
