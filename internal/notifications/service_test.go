package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scour/internal/config"
	"scour/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyDrainStarted(context.Background(), 4); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServicePublishesDrainSummary(t *testing.T) {
	var gotTitle, gotPriority, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyDrainCompleted(context.Background(), 5, 2, 1, 90*time.Second); err != nil {
		t.Fatalf("NotifyDrainCompleted: %v", err)
	}
	if gotTitle != "Scour - Drain Complete (with errors)" {
		t.Fatalf("unexpected title %q", gotTitle)
	}
	if !strings.Contains(gotBody, "5 processed, 2 requeued, 1 failed") {
		t.Fatalf("unexpected body %q", gotBody)
	}

	if err := svc.NotifyItemFailed(context.Background(), "item-1", "tasks/discovery", "boom"); err != nil {
		t.Fatalf("NotifyItemFailed: %v", err)
	}
	if gotPriority != "high" {
		t.Fatalf("expected high priority, got %q", gotPriority)
	}
	if !strings.Contains(gotBody, "Last error: boom") {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestNtfyServiceSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	err := svc.TestNotification(context.Background())
	if err == nil {
		t.Fatal("expected error from failing endpoint")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected status in error, got %v", err)
	}
}
