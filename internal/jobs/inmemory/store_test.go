package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/bill-importer/internal/jobs"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

	for i, j := range []*jobs.ImportDocumentJob{
		{JobID: "a", UserID: "u1", Status: jobs.JobStatusCompleted, CreatedAt: base},
		{JobID: "b", UserID: "u1", Status: jobs.JobStatusFailed, CreatedAt: base.Add(time.Minute)},
		{JobID: "c", UserID: "u2", Status: jobs.JobStatusCompleted, CreatedAt: base.Add(2 * time.Minute), Document: []byte("big")},
	} {
		if err := s.SaveJob(ctx, j); err != nil {
			t.Fatalf("SaveJob %d: %v", i, err)
		}
	}

	if err := s.SaveJob(ctx, &jobs.ImportDocumentJob{}); err == nil {
		t.Error("saved a job without ID")
	}

	c, err := s.GetJob(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if c.Document != nil {
		t.Error("store retained document bytes")
	}
	if _, err := s.GetJob(ctx, "zzz"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob unknown: %v", err)
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"c", "b", "a"}},
		{"by user", jobs.JobFilter{UserID: "u1"}, []string{"b", "a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusCompleted}, []string{"c", "a"}},
		{"limit and offset", jobs.JobFilter{Offset: 1, Limit: 1}, []string{"b"}},
		{"offset past end", jobs.JobFilter{Offset: 5}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d jobs, want %v", len(got), tt.want)
			}
			for i, id := range tt.want {
				if got[i].JobID != id {
					t.Errorf("jobs[%d] = %s, want %s", i, got[i].JobID, id)
				}
			}
		})
	}

	if err := s.UpdateJobStatus(ctx, "a", jobs.JobStatusFailed, "boom"); err != nil {
		t.Fatal(err)
	}
	a, _ := s.GetJob(ctx, "a")
	if a.Status != jobs.JobStatusFailed || a.Error != "boom" {
		t.Errorf("after update: %+v", a)
	}
	if err := s.UpdateJobStatus(ctx, "zzz", jobs.JobStatusFailed, ""); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("UpdateJobStatus unknown: %v", err)
	}
}
