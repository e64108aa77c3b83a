package messaging

import (
	"testing"
	"time"
)

func TestNewMessageRoundTrip(t *testing.T) {
	msg, err := NewMessage("msg-1", MsgTypeNovelResume, "job-1", &ResumePayload{JobID: "job-1", StartChapter: 4})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if msg.Type != MsgTypeNovelResume || msg.JobID != "job-1" {
		t.Errorf("message = %+v", msg)
	}

	var payload ResumePayload
	if err := msg.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload: %v", err)
	}
	if payload.StartChapter != 4 {
		t.Errorf("start chapter = %d, want 4", payload.StartChapter)
	}
}

func TestMessageMetadata(t *testing.T) {
	msg, err := NewMessage("msg-1", MsgTypeNovelGenerate, "job-1", &GeneratePayload{JobID: "job-1"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if got := msg.GetMetadata("retry_count"); got != "" {
		t.Errorf("unset metadata = %q, want empty", got)
	}
	msg.SetMetadata("retry_count", "2")
	if got := msg.GetMetadata("retry_count"); got != "2" {
		t.Errorf("metadata = %q, want 2", got)
	}
}

func TestDLQStream(t *testing.T) {
	if got := StreamNovelJobs.DLQStream(); got != "dlq:stream:novel:jobs" {
		t.Errorf("DLQStream = %q", got)
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2}
	cases := []struct {
		retries int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := cfg.CalculateBackoff(tc.retries); got != tc.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tc.retries, got, tc.want)
		}
	}
}
