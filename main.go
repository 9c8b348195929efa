// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/rchandramouli/gweb-app/gweb"
)

func main() {
	fmt.Println("gweb - social network REST backend")
	fmt.Println("==================================")
	fmt.Println()
	fmt.Println("Streams HTTP bodies through table-driven field mapping into typed messages,")
	fmt.Println("runs each API in a single database transaction and answers with typed JSON.")
	fmt.Println()

	fmt.Println("Registered APIs:")
	for _, api := range gweb.APIs() {
		mode := "POST"
		if api.ReadOnly {
			mode = "POST, GET " + gweb.DefaultQueryPrefix + api.Name
		}
		fmt.Printf("  %-20s %s\n", api.Name, mode)
	}
	fmt.Println()

	fmt.Println("Run the server:")
	fmt.Println("  go run ./cmd/gweb-server --driver sqlite3 --database-url file:gweb.db --avatar-mount ./avatars")
	fmt.Println()
}
