// Package main is a development utility for generating a JWT signing secret.
// It prints a 32-byte random secret encoded as base64url, ready to export as
// PBR_JWT_SECRET. Do not reuse generated secrets across environments — every
// deployment gets its own, rotated by restarting all replicas with the new
// value.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func main() {
	randomBytes := make([]byte, 32)
	_, err := rand.Read(randomBytes)
	if err != nil {
		log.Fatal(err)
	}

	secret := base64.RawURLEncoding.EncodeToString(randomBytes)

	fmt.Println("==========================================================")
	fmt.Println("JWT Secret Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nexport PBR_JWT_SECRET=%s\n\n", secret)
	fmt.Println("==========================================================")
}
