//go:build ignore
// +build ignore

// Package main provides a manual concurrency stress test for the borrow API.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <book_id> <token1> [token2 ...]
//
// Or use the convenience environment variables:
//
//	BOOK_ID=<id>  TOKENS=<tok1>,<tok2>,...  go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Fires N goroutines (one per user token) all attempting to borrow the
//     same book simultaneously.
//  2. Prints how many borrows were accepted (201) vs rejected (400).
//  3. The book-row lock guarantees the number of accepted borrows never
//     exceeds the book's available_copies before the run.
//
// Prerequisites:
//   - Server must be running and reachable at SERVER_ADDR.
//   - The book must exist and each token must come from POST /api/login/.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type borrowResult struct {
	Token      string
	StatusCode int
	Details    string
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	bookID := os.Getenv("BOOK_ID")
	tokensEnv := os.Getenv("TOKENS")

	var tokens []string
	if tokensEnv != "" {
		tokens = strings.Split(tokensEnv, ",")
	}

	// Support positional args: script <book_id> [tokens...]
	args := os.Args[1:]
	if len(args) >= 1 {
		bookID = args[0]
	}
	if len(args) >= 2 {
		tokens = args[1:]
	}

	if bookID == "" {
		log.Fatal("Usage: BOOK_ID=<id> TOKENS=<t1,t2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <book_id> <token1> [token2 ...]")
	}
	if len(tokens) == 0 {
		log.Fatal("At least one auth token must be provided via TOKENS env or positional args")
	}

	fmt.Printf("=== Borrow Concurrency Test ===\n")
	fmt.Printf("Server : %s\n", serverAddr)
	fmt.Printf("Book   : %s\n", bookID)
	fmt.Printf("Users  : %d\n\n", len(tokens))

	results := make([]borrowResult, len(tokens))
	var wg sync.WaitGroup

	// Fire all goroutines simultaneously using a barrier.
	start := make(chan struct{})

	for i, tok := range tokens {
		wg.Add(1)
		go func(idx int, token string) {
			defer wg.Done()
			<-start // wait for the barrier
			results[idx] = attemptBorrow(serverAddr, bookID, strings.TrimSpace(token))
		}(i, tok)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)

	wg.Wait()
	fmt.Println("All requests completed.")

	var accepted, rejected, failures int
	for i, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] user=%-3d err=%v\n", i+1, r.Err)
		case r.StatusCode == http.StatusCreated:
			accepted++
			fmt.Printf("  [BORR] user=%-3d status=%d\n", i+1, r.StatusCode)
		case r.StatusCode == http.StatusBadRequest:
			rejected++
			fmt.Printf("  [RJCT] user=%-3d status=%d details=%q\n", i+1, r.StatusCode, r.Details)
		default:
			failures++
			fmt.Printf("  [FAIL] user=%-3d status=%d unexpected response\n", i+1, r.StatusCode)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Accepted : %d\n", accepted)
	fmt.Printf("Rejected : %d\n", rejected)
	fmt.Printf("Failures : %d\n", failures)
	fmt.Printf("Total    : %d\n\n", len(tokens))

	fmt.Println("--- Invariant Check ---")
	fmt.Println("The SELECT FOR UPDATE lock on the book row serializes concurrent borrows,")
	fmt.Println("so available_copies can never go below zero.")
	fmt.Printf("Borrows accepted: %d — this must not exceed the book's available_copies before the run.\n", accepted)

	if failures > 0 {
		fmt.Printf("\n[WARNING] %d request(s) failed — check server logs for details.\n", failures)
		os.Exit(1)
	}
}

// attemptBorrow sends POST /api/borrow/ with the given bearer token and
// reports the response status and details message.
func attemptBorrow(serverAddr, bookID, token string) borrowResult {
	url := serverAddr + "/api/borrow/"
	body := fmt.Sprintf(`{"book_id":%s}`, bookID)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		return borrowResult{Token: token, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return borrowResult{Token: token, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	var parsed map[string]interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return borrowResult{Token: token, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad JSON: %s", raw)}
	}

	details, _ := parsed["details"].(string)
	if details == "" {
		details, _ = parsed["error"].(string)
	}
	return borrowResult{
		Token:      token,
		StatusCode: resp.StatusCode,
		Details:    details,
	}
}
