//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/Strob0t/FinSight/internal/domain/analysis"
)

func startAnalysis(t *testing.T, identifier string, stages []string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"identifier": identifier, "stages": stages})
	resp, err := http.Post(testServer.URL+"/api/v1/analyses", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d", resp.StatusCode)
	}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.SessionID
}

func getStatus(t *testing.T, token string) analysis.Session {
	t.Helper()
	resp, err := http.Get(testServer.URL + "/api/v1/analyses/" + token)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", resp.StatusCode)
	}
	var s analysis.Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFullAnalysisLifecycle(t *testing.T) {
	token := startAnalysis(t, "AAPL", []string{"market_analyst", "news_analyst"})

	deadline := time.Now().Add(10 * time.Second)
	var s analysis.Session
	for time.Now().Before(deadline) {
		s = getStatus(t, token)
		if s.Status == analysis.StatusCompleted {
			break
		}
		if s.Status == analysis.StatusFailed || s.Status == analysis.StatusCancelled {
			t.Fatalf("unexpected terminal status %s (error %q)", s.Status, s.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if s.Status != analysis.StatusCompleted {
		t.Fatalf("analysis did not complete, status %s progress %.1f", s.Status, s.Progress)
	}
	if s.Progress != 100.0 {
		t.Fatalf("completed run must report progress 100, got %.1f", s.Progress)
	}

	// Reports were populated along the way.
	resp, err := http.Get(testServer.URL + "/api/v1/analyses/" + token + "/reports")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var reports struct {
		Reports map[string]string `json:"reports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reports); err != nil {
		t.Fatal(err)
	}
	if reports.Reports["market_analyst_report"] == "" || reports.Reports["news_analyst_report"] == "" {
		t.Fatalf("expected report sections for both stages, got %v", reports.Reports)
	}
}

func TestCancelAnalysis(t *testing.T) {
	token := startAnalysis(t, "MSFT", []string{"market_analyst", "news_analyst", "risk_manager"})

	req, _ := http.NewRequest(http.MethodPost, testServer.URL+"/api/v1/analyses/"+token+"/cancel", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel: expected 202, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s := getStatus(t, token); s.Status == analysis.StatusCancelled {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("session never reached cancelled")
}
