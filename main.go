// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("wizarr stripe-sync - Stripe to Postgres Mirroring Library")
	fmt.Println("=========================================================")
	fmt.Println()
	fmt.Println("stripesync keeps a relational mirror of a Stripe account in Postgres,")
	fmt.Println("combining webhook ingestion with paginated backfills. Both paths converge")
	fmt.Println("on timestamp-guarded upserts, so deliveries can arrive late, duplicated")
	fmt.Println("or out of order without corrupting the mirror.")
	fmt.Println()

	fmt.Println("Available Examples:")
	fmt.Println()
	fmt.Println("1. Webhook Server Example (examples/webhook_server/)")
	fmt.Println("   A complete sync server: webhook endpoint, backfill and single-entity")
	fmt.Println("   sync endpoints behind JWT auth, optional scheduled full backfill")
	fmt.Println("   Run: cd examples/webhook_server && go run .")
	fmt.Println()
}
