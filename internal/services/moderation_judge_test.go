package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func validModerationRequest() ModerationRequest {
	return ModerationRequest{
		Title:       "Crème Brûlée: A History",
		Author:      "Ana Ruiz",
		Language:    "en",
		Pages:       212,
		Description: "A short history of custard.",
		Document:    Upload{FileName: "book.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")},
		Cover:       Upload{FileName: "cover.png", ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
	}
}

func TestModerationJudgeRejectsAssetsLocally(t *testing.T) {
	tooLarge := bytes.Repeat([]byte{'a'}, 1024+1)
	cases := []struct {
		name     string
		mutate   func(*ModerationRequest)
		sentinel error
		asset    string
	}{
		{"document type", func(r *ModerationRequest) { r.Document.ContentType = "image/jpeg" }, ErrAssetTypeInvalid, assetDocument},
		{"cover type", func(r *ModerationRequest) { r.Cover.ContentType = "application/pdf" }, ErrAssetTypeInvalid, assetCover},
		{"document size", func(r *ModerationRequest) { r.Document.Data = tooLarge }, ErrAssetTooLarge, assetDocument},
		{"cover size", func(r *ModerationRequest) { r.Cover.Data = tooLarge }, ErrAssetTooLarge, assetCover},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubContentJudge{response: approvedReply}
			judge, err := NewModerationJudge(ModerationJudgeDeps{Judge: stub, MaxAssetBytes: 1024})
			if err != nil {
				t.Fatalf("new judge: %v", err)
			}
			req := validModerationRequest()
			tc.mutate(&req)

			_, err = judge.Judge(context.Background(), req)
			if !errors.Is(err, tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, err)
			}
			var assetErr *AssetError
			if !errors.As(err, &assetErr) || assetErr.Asset != tc.asset {
				t.Fatalf("expected asset error for %s, got %#v", tc.asset, err)
			}
			if stub.callCount() != 0 {
				t.Fatalf("judge must not be called when local validation fails")
			}
		})
	}
}

func TestModerationJudgeAcceptsDocumentFormats(t *testing.T) {
	for _, contentType := range []string{
		"application/pdf",
		"application/epub+zip",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain; charset=utf-8",
	} {
		stub := &stubContentJudge{response: approvedReply}
		judge, _ := NewModerationJudge(ModerationJudgeDeps{Judge: stub})
		req := validModerationRequest()
		req.Document.ContentType = contentType
		if _, err := judge.Judge(context.Background(), req); err != nil {
			t.Fatalf("%s should be accepted, got %v", contentType, err)
		}
	}
}

func TestModerationJudgeSendsPromptAndAttachments(t *testing.T) {
	stub := &stubContentJudge{response: approvedReply}
	metrics := &recordingMetrics{}
	judge, err := NewModerationJudge(ModerationJudgeDeps{Judge: stub, Metrics: metrics})
	if err != nil {
		t.Fatalf("new judge: %v", err)
	}

	verdict, err := judge.Judge(context.Background(), validModerationRequest())
	if err != nil {
		t.Fatalf("judge: %v", err)
	}
	if verdict.Status != VerdictApproved {
		t.Fatalf("expected approval, got %+v", verdict)
	}
	if len(stub.attached) != 2 || stub.attached[0].MimeType != "application/pdf" || stub.attached[1].MimeType != "image/png" {
		t.Fatalf("unexpected attachments %+v", stub.attached)
	}
	for _, want := range []string{"Crème Brûlée: A History", "Ana Ruiz", "212", "strictly in order", `"Not Approved"`} {
		if !strings.Contains(stub.prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if len(metrics.moderation) != 1 || metrics.moderation[0] != "approved" {
		t.Fatalf("expected approved metric, got %v", metrics.moderation)
	}
}

func TestModerationJudgeSurfacesRejectionReason(t *testing.T) {
	stub := &stubContentJudge{response: `{"status":"Not Approved","reason":"The page count does not match the document."}`}
	judge, _ := NewModerationJudge(ModerationJudgeDeps{Judge: stub})

	_, err := judge.Judge(context.Background(), validModerationRequest())
	if !errors.Is(err, ErrModerationRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err.Error() != "The page count does not match the document." {
		t.Fatalf("reason should pass through verbatim, got %q", err.Error())
	}
}

func TestModerationJudgeTimesOut(t *testing.T) {
	stub := &stubContentJudge{block: true}
	metrics := &recordingMetrics{}
	logs := &captureLog{}
	judge, _ := NewModerationJudge(ModerationJudgeDeps{
		Judge:   stub,
		Timeout: 20 * time.Millisecond,
		Metrics: metrics,
		Logger:  logs.log,
	})

	_, err := judge.Judge(context.Background(), validModerationRequest())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(metrics.moderation) != 1 || metrics.moderation[0] != "timeout" {
		t.Fatalf("expected timeout metric, got %v", metrics.moderation)
	}
	if !logs.has("moderation_judge_failed") {
		t.Fatalf("expected failure log")
	}
}

func TestModerationJudgeParseFailure(t *testing.T) {
	stub := &stubContentJudge{response: "%%% not json %%%"}
	metrics := &recordingMetrics{}
	judge, _ := NewModerationJudge(ModerationJudgeDeps{Judge: stub, Metrics: metrics})

	_, err := judge.Judge(context.Background(), validModerationRequest())
	if !errors.Is(err, ErrModerationParseFailure) {
		t.Fatalf("expected parse failure, got %v", err)
	}
	if metrics.moderation[0] != "parse_failure" {
		t.Fatalf("expected parse_failure metric, got %v", metrics.moderation)
	}
}

func TestNewModerationJudgeRequiresContentJudge(t *testing.T) {
	if _, err := NewModerationJudge(ModerationJudgeDeps{}); !errors.Is(err, ErrDependencyMissing) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
