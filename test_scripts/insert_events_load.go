// Command insert_events_load bulk inserts random events and creates a pivot
// transform over them.
//
//	go run ./test_scripts 100000 http://localhost:8080
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const batchSize = 1000

// Event represents the structure of an event document to insert
type Event struct {
	Host      string  `json:"host"`
	Status    int     `json:"status"`
	Latency   float64 `json:"latency"`
	Timestamp int64   `json:"ts"`
}

var hosts = []string{"web-1", "web-2", "web-3", "db-1", "db-2", "cache-1"}

func randomEvent(now time.Time) Event {
	status := 200
	if rand.Intn(20) == 0 {
		status = 500
	}
	return Event{
		Host:      hosts[rand.Intn(len(hosts))],
		Status:    status,
		Latency:   float64(rand.Intn(5000)) / 10,
		Timestamp: now.Add(-time.Duration(rand.Intn(3600)) * time.Second).UnixMilli(),
	}
}

func post(method, url string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func createTransform(baseURL string) error {
	return post(http.MethodPut, baseURL+"/transforms/events-by-host", map[string]interface{}{
		"source":    map[string]interface{}{"index": []string{"events"}},
		"dest":      map[string]interface{}{"index": "events-by-host"},
		"frequency": "5s",
		"sync":      map[string]interface{}{"time": map[string]interface{}{"field": "ts", "delay": "10s"}},
		"pivot": map[string]interface{}{
			"group_by": map[string]interface{}{
				"host": map[string]interface{}{"terms": map[string]interface{}{"field": "host"}},
			},
			"aggregations": map[string]interface{}{
				"avg_latency": map[string]interface{}{"avg": map[string]interface{}{"field": "latency"}},
				"max_latency": map[string]interface{}{"max": map[string]interface{}{"field": "latency"}},
				"requests":    map[string]interface{}{"value_count": map[string]interface{}{"field": "status"}},
			},
		},
	})
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./test_scripts <number_of_events> [server_url]")
		fmt.Println("Example: go run ./test_scripts 100000 http://localhost:8080")
		os.Exit(1)
	}

	numEvents, err := strconv.Atoi(os.Args[1])
	if err != nil || numEvents <= 0 {
		fmt.Printf("Error: invalid number of events '%s'\n", os.Args[1])
		os.Exit(1)
	}

	serverURL := "http://localhost:8080"
	if len(os.Args) >= 3 {
		serverURL = strings.TrimSuffix(os.Args[2], "/")
	}

	fmt.Printf("Starting load test: inserting %d events to %s\n", numEvents, serverURL)

	startTime := time.Now()
	successCount := 0
	errorCount := 0

	for sent := 0; sent < numEvents; sent += batchSize {
		n := min(batchSize, numEvents-sent)
		docs := make([]Event, n)
		now := time.Now()
		for i := range docs {
			docs[i] = randomEvent(now)
		}
		if err := post(http.MethodPost, serverURL+"/collections/events/_bulk", map[string]interface{}{"documents": docs}); err != nil {
			errorCount += n
			fmt.Printf("Error inserting batch at %d: %v\n", sent, err)
			continue
		}
		successCount += n

		elapsed := time.Since(startTime)
		fmt.Printf("Progress: %d/%d events - Rate: %.1f events/sec\n",
			sent+n, numEvents, float64(sent+n)/elapsed.Seconds())
	}

	if err := createTransform(serverURL); err != nil {
		fmt.Printf("Error creating transform: %v\n", err)
		os.Exit(1)
	}
	if err := post(http.MethodPost, serverURL+"/transforms/events-by-host/_start", nil); err != nil {
		fmt.Printf("Error starting transform: %v\n", err)
		os.Exit(1)
	}

	totalTime := time.Since(startTime)
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("LOAD TEST COMPLETE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Successful inserts:    %d\n", successCount)
	fmt.Printf("Failed inserts:        %d\n", errorCount)
	fmt.Printf("Total time:            %v\n", totalTime)
	fmt.Printf("Average rate:          %.2f events/sec\n", float64(successCount)/totalTime.Seconds())
	fmt.Println("Transform events-by-host started, see /transforms/events-by-host/_stats")

	if errorCount > 0 {
		os.Exit(1)
	}
}
