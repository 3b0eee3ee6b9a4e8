package pipeline

import (
	"strings"
	"testing"
	"time"

	"labsight-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeChatContext_SuccessAndFailure(t *testing.T) {
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	reports := []model.ReportAnalysis{
		{
			Filename: "a.jpg",
			Success:  true,
			Analysis: &model.AnalysisResult{
				Parameters: []model.Parameter{
					{Name: "Hemoglobin", Value: "14.5 g/dL", ReferenceRange: "12.0-16.0 g/dL", Status: "Normal", Interpretation: "Fine."},
					{Name: "Ferritin", Value: "8 ng/mL", Status: "Low"},
				},
				Summary:  model.Summary{OverallStatus: "Abnormal", KeyFindings: "Low ferritin"},
				Metadata: model.Metadata{Confidence: "High", Notes: "Clear image"},
			},
		},
		{Filename: "b.jpg", Success: false, Error: "model unavailable"},
	}

	ctx := ComposeChatContext(reports, "CBC", now)
	parts := strings.Split(ctx, ReportSeparator)
	require.Len(t, parts, 2)

	first := parts[0]
	assert.True(t, strings.HasPrefix(first, "REPORT 1: a.jpg\nTest Type: CBC\nAnalysis Date: 10/19/2026\n\n"))
	assert.Contains(t, first, "LABORATORY PARAMETERS:\n• Hemoglobin: 14.5 g/dL (Reference: 12.0-16.0 g/dL) - Status: Normal\n  Interpretation: Fine.\n")
	assert.Contains(t, first, "• Ferritin: 8 ng/mL - Status: Low\n")
	assert.Contains(t, first, "ANALYSIS SUMMARY:\nOverall Status: Abnormal\nKey Findings: Low ferritin\n\n")
	assert.NotContains(t, first, "MEDICAL RECOMMENDATIONS:")
	assert.Contains(t, first, "ANALYSIS DETAILS:\nQuality: N/A\nCompleteness: N/A\nConfidence: High\nNotes: Clear image\n")

	// section order follows the schema
	assert.Less(t, strings.Index(first, "LABORATORY PARAMETERS"), strings.Index(first, "ANALYSIS SUMMARY"))
	assert.Less(t, strings.Index(first, "ANALYSIS SUMMARY"), strings.Index(first, "ANALYSIS DETAILS"))

	assert.Equal(t, "REPORT 2: b.jpg\nStatus: Analysis Failed\nError: model unavailable", parts[1])
}

func TestComposeChatContext_UnknownError(t *testing.T) {
	ctx := ComposeChatContext([]model.ReportAnalysis{{Filename: "x.png"}}, "CBC", time.Now())
	assert.Equal(t, "REPORT 1: x.png\nStatus: Analysis Failed\nError: Unknown error", ctx)
	assert.Empty(t, ComposeChatContext(nil, "CBC", time.Now()))
}

func TestBuildChatPrompt(t *testing.T) {
	withCtx := BuildChatPrompt("REPORT 1: a.jpg", "Should I worry?")
	assert.Contains(t, withCtx, "Dr. Sarah Mitchell")
	assert.Contains(t, withCtx, "PATIENT'S RECENT BLOOD TEST RESULTS:\nREPORT 1: a.jpg\n\nINTEGRATE these results")
	assert.Contains(t, withCtx, `PATIENT QUESTION: "Should I worry?"`)
	assert.Contains(t, withCtx, "## 🎯 **Direct Answer**")

	noCtx := BuildChatPrompt("", "Hello")
	assert.NotContains(t, noCtx, "PATIENT'S RECENT BLOOD TEST RESULTS")
	assert.Less(t, strings.Index(noCtx, "PATIENT QUESTION"), strings.Index(noCtx, "FORMATTING REQUIREMENTS"))
}

func TestComposeChatContext_EmptySectionsAndDetails(t *testing.T) {
	reports := []model.ReportAnalysis{{Filename: "bare.jpg", Success: true, Analysis: &model.AnalysisResult{}}}
	out := ComposeChatContext(reports, "Lipid", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "REPORT 1: bare.jpg\nTest Type: Lipid\nAnalysis Date: 3/4/2026\n\n"+
		"ANALYSIS DETAILS:\nQuality: N/A\nCompleteness: N/A\nConfidence: N/A\n", out)
}
