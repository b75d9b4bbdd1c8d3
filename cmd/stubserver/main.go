package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"whispr/client/internal/stubserver"
)

// Runs the in-memory chat service locally, pre-seeded with two accounts so
// the client can be exercised without a real backend.
func main() {
	log.Println("Starting whispr stub server...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}
	addr := os.Getenv("WHISPR_STUB_ADDR")
	if addr == "" {
		addr = ":8000"
	}

	stub := stubserver.New()
	aliceID, _ := stub.AddUser("alice", "alice@example.com", "alice")
	bobID, _ := stub.AddUser("bob", "bob@example.com", "bob")
	chatID := stub.AddChat(aliceID, bobID)
	log.Printf("seeded users alice/bob (password = username), chat %s", chatID)

	server := &http.Server{
		Addr:           addr,
		Handler:        stub.Router(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	log.Fatal(server.ListenAndServe())
}
