package dto

import (
	"strings"
	"testing"

	"novel-forge-api/internal/domain/entity"
	apperrors "novel-forge-api/pkg/errors"
)

func validCreateRequest() CreateNovelRequest {
	return CreateNovelRequest{
		Title:           "The Hollow Crown",
		Premise:         strings.Repeat("An exiled heir plots a careful return to the usurped throne. ", 3),
		Genre:           "fantasy",
		Subgenre:        "epic_fantasy",
		TargetWordCount: 60000,
		TargetChapters:  20,
	}
}

func TestCreateNovelRequestValidate(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(r *CreateNovelRequest)
		wantCode apperrors.ErrorCode
	}{
		{
			name:   "valid",
			mutate: func(*CreateNovelRequest) {},
		},
		{
			name:     "empty title",
			mutate:   func(r *CreateNovelRequest) { r.Title = "" },
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name:     "title too long",
			mutate:   func(r *CreateNovelRequest) { r.Title = strings.Repeat("a", 201) },
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name:     "title with forbidden characters",
			mutate:   func(r *CreateNovelRequest) { r.Title = "Title @ Home" },
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name:     "premise too short",
			mutate:   func(r *CreateNovelRequest) { r.Premise = "Too short." },
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name: "premise too few words",
			mutate: func(r *CreateNovelRequest) {
				r.Premise = strings.Repeat("x", 60) + " word two three"
			},
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name:     "unknown genre",
			mutate:   func(r *CreateNovelRequest) { r.Genre = "western" },
			wantCode: apperrors.CodeGenreUnknown,
		},
		{
			name:     "mismatched subgenre",
			mutate:   func(r *CreateNovelRequest) { r.Subgenre = "cyberpunk" },
			wantCode: apperrors.CodeGenreUnknown,
		},
		{
			name:     "word count too low",
			mutate:   func(r *CreateNovelRequest) { r.TargetWordCount = 5000 },
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name:     "word count too high",
			mutate:   func(r *CreateNovelRequest) { r.TargetWordCount = 600000 },
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name:     "too few chapters",
			mutate:   func(r *CreateNovelRequest) { r.TargetChapters = 2 },
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name:     "too many chapters",
			mutate:   func(r *CreateNovelRequest) { r.TargetChapters = 150 },
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name: "average chapter too short",
			mutate: func(r *CreateNovelRequest) {
				r.TargetWordCount = 10000
				r.TargetChapters = 100
			},
			wantCode: apperrors.CodeInvalidParam,
		},
		{
			name: "average chapter too long",
			mutate: func(r *CreateNovelRequest) {
				r.TargetWordCount = 500000
				r.TargetChapters = 3
			},
			wantCode: apperrors.CodeInvalidParam,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(&req)
			err := req.Validate()
			if tc.wantCode == "" {
				if err != nil {
					t.Fatalf("Validate returned %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			appErr, ok := err.(*apperrors.AppError)
			if !ok || appErr.Code != tc.wantCode {
				t.Errorf("error = %v, want code %s", err, tc.wantCode)
			}
		})
	}
}

func TestCreateNovelRequestSanitize(t *testing.T) {
	req := CreateNovelRequest{
		Title:    "  <script>The Title</script>  ",
		Premise:  "  padded premise  ",
		Genre:    " fantasy ",
		Subgenre: " epic_fantasy ",
	}
	req.Sanitize()

	if req.Title != "scriptThe Title/script" {
		t.Errorf("title = %q", req.Title)
	}
	if req.Premise != "padded premise" {
		t.Errorf("premise = %q", req.Premise)
	}
	if req.Genre != "fantasy" || req.Subgenre != "epic_fantasy" {
		t.Errorf("genre = %q/%q", req.Genre, req.Subgenre)
	}
}

func TestEstimateMinutes(t *testing.T) {
	if got := EstimateMinutes(60000); got != 120 {
		t.Errorf("EstimateMinutes(60000) = %d, want 120", got)
	}
	if got := EstimateMinutes(10000); got != 20 {
		t.Errorf("EstimateMinutes(10000) = %d, want 20", got)
	}
}

func TestRetryEstimateMinutes(t *testing.T) {
	if got := RetryEstimateMinutes(4); got != 12 {
		t.Errorf("RetryEstimateMinutes(4) = %d, want 12", got)
	}
}

func TestProgressPercentage(t *testing.T) {
	job := entity.NewNovelJob("T", "p", "fantasy", "epic_fantasy", 30000, 10)

	if got := ProgressPercentage(job); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}

	job.EnterPhase(entity.NovelStatusPlanning, entity.PhasePremiseAnalysis)
	if got := ProgressPercentage(job); got != 10 {
		t.Errorf("analysis = %d, want 10", got)
	}

	job.EnterPhase(entity.NovelStatusOutlining, entity.PhaseOutlineGeneration)
	if got := ProgressPercentage(job); got != 25 {
		t.Errorf("outline = %d, want 25", got)
	}

	job.EnterPhase(entity.NovelStatusWriting, entity.PhaseChapterWriting)
	job.Progress.ChaptersCompleted = 5
	if got := ProgressPercentage(job); got != 60 {
		t.Errorf("halfway writing = %d, want 60", got)
	}

	job.EnterPhase(entity.NovelStatusCompleted, entity.PhaseCompleted)
	if got := ProgressPercentage(job); got != 100 {
		t.Errorf("completed = %d, want 100", got)
	}
}

func TestToNovelStatusResponseFailures(t *testing.T) {
	job := entity.NewNovelJob("T", "p", "fantasy", "epic_fantasy", 30000, 10)
	job.EnterPhase(entity.NovelStatusCompleted, entity.PhaseCompleted)
	job.RecordChapterFailure(3)
	job.RecordChapterFailure(7)

	resp := ToNovelStatusResponse(job)
	if resp.Failures == nil {
		t.Fatal("failures summary missing")
	}
	if !resp.Failures.CanRetry || resp.Failures.FailedCount != 2 {
		t.Errorf("failures = %+v", resp.Failures)
	}
	if len(resp.Failures.FailedChapters) != 2 {
		t.Errorf("failed chapters = %v", resp.Failures.FailedChapters)
	}
}

func TestToDownloadNovelResponse(t *testing.T) {
	job := entity.NewNovelJob("T", "p", "fantasy", "epic_fantasy", 30000, 3)
	job.Outline = []entity.ChapterSpec{
		{ChapterNumber: 1, Title: "One", Summary: "s"},
		{ChapterNumber: 2, Title: "Two", Summary: "s"},
		{ChapterNumber: 3, Title: "Three", Summary: "s"},
	}
	job.InitChapterSlots()
	for _, n := range []int{1, 2} {
		slot := job.ChapterByNumber(n)
		slot.SetContent("some chapter words here")
		slot.Status = entity.ChapterCompleted
	}
	third := job.ChapterByNumber(3)
	third.Status = entity.ChapterFailed
	third.FailureReason = "upstream unavailable"
	third.Attempts = 3
	job.Progress.HasFailures = true

	resp := ToDownloadNovelResponse(job)
	if len(resp.Chapters) != 2 || len(resp.FailedChapters) != 1 {
		t.Fatalf("chapters = %d, failed = %d", len(resp.Chapters), len(resp.FailedChapters))
	}
	if resp.WordCount != 8 {
		t.Errorf("word count = %d, want 8", resp.WordCount)
	}
	if resp.CompletionStats.CompletionRate != 67 {
		t.Errorf("completion rate = %d, want 67", resp.CompletionStats.CompletionRate)
	}
	if resp.FailedChapters[0].FailureReason != "upstream unavailable" {
		t.Errorf("failed chapter = %+v", resp.FailedChapters[0])
	}
}
