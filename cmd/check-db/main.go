// Package main is a diagnostic tool for testing database connectivity and
// inspecting live registry data. It connects to the database, summarises the
// permission_records table per category, and prints user and audit counts to
// stdout. The binary exits with a non-zero code on any failure so it can be
// embedded in health checks or CI/CD pipeline steps to gate deployments on a
// reachable, populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "permits"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=permits password=%s dbname=permit_registry sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Records per category
	fmt.Println("=== PERMISSION RECORDS ===")
	rows, err := db.Query(`
		SELECT category, COUNT(*), COUNT(*) FILTER (WHERE notified)
		FROM permission_records GROUP BY category ORDER BY category`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var category string
		var count, notified int
		if err := rows.Scan(&category, &count, &notified); err != nil {
			log.Printf("Warning: failed to scan category row: %v", err)
			continue
		}
		fmt.Printf("Category: %-20s records=%d notified=%d\n", category, count, notified)
		total += count
	}
	if total == 0 {
		fmt.Println("No records found!")
	}

	// Users
	fmt.Println("\n=== USERS ===")
	var users, active int
	err = db.QueryRow(`SELECT COUNT(*), COUNT(*) FILTER (WHERE active) FROM users`).Scan(&users, &active)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Users: %d (%d active)\n", users, active)

	// Audit trail
	fmt.Println("\n=== AUDIT TRAIL ===")
	var entries int
	var lastAction sql.NullString
	err = db.QueryRow(`SELECT COUNT(*), MAX(created_at::text) FROM audit_entries`).Scan(&entries, &lastAction)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	last := "never"
	if lastAction.Valid {
		last = lastAction.String
	}
	fmt.Printf("Entries: %d (last written: %s)\n", entries, last)
}
