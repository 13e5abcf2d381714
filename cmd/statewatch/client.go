package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"git.home.luguber.info/inful/statewatch/internal/events"
	"git.home.luguber.info/inful/statewatch/internal/ingest"
)

var apiClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(url string, out any) error {
	resp, err := apiClient.Get(url)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s", apiErr.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runStatus(addr string) error {
	var st ingest.Status
	if err := getJSON(addr+"/status", &st); err != nil {
		return err
	}

	fmt.Printf("stage:      %s\n", st.Stage)
	if st.EmpireName != "" {
		fmt.Printf("empire:     %s\n", st.EmpireName)
	}
	if st.GameDate != "" {
		fmt.Printf("game date:  %s\n", st.GameDate)
	}
	if st.Path != "" {
		fmt.Printf("source:     %s\n", st.Path)
	}
	fmt.Printf("generation: %d\n", st.Generation)
	if st.CancelCount > 0 {
		fmt.Printf("cancelled:  %d\n", st.CancelCount)
	}
	if st.LastError != "" {
		fmt.Printf("last error: %s\n", st.LastError)
	}
	for tier, d := range st.TierTimings {
		fmt.Printf("  %-8s %s\n", tier, d.Round(time.Millisecond))
	}
	return nil
}

func runEvents(addr string, limit int) error {
	var body struct {
		SessionID string         `json:"session_id"`
		Events    []events.Event `json:"events"`
	}
	if err := getJSON(fmt.Sprintf("%s/events?limit=%d", addr, limit), &body); err != nil {
		return err
	}

	if len(body.Events) == 0 {
		fmt.Println("no events yet")
		return nil
	}
	for _, evt := range body.Events {
		fmt.Printf("[%s] %s\n", evt.Type, evt.Summary)
	}
	return nil
}
