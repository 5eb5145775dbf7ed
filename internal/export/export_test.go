package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderReportHTML(t *testing.T) {
	data := TemplateData{
		Title:     "Settlement Agreement",
		FileName:  "settlement.pdf",
		Status:    "review",
		Owner:     "Avery",
		UpdatedAt: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
		Annotations: []AnnotationInfo{
			{PageNumber: 2, Type: "highlight", Content: "Check clause 4.2", Status: "active", Author: "Avery"},
		},
		Comments: []CommentInfo{
			{
				Content: "Needs client sign-off", Status: "open", Author: "Blair",
				CreatedAt: time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC),
				Replies:   []ReplyInfo{{Author: "Avery", Body: "Sent for signature"}},
			},
		},
		Versions: []VersionInfo{
			{Version: 1, Comment: "initial upload", Author: "Avery", CreatedAt: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)},
			{Version: 2, Comment: "redlined", Author: "Blair", IsLatest: true, CreatedAt: time.Date(2025, 3, 8, 8, 0, 0, 0, time.UTC)},
		},
		Workflows: []WorkflowInfo{
			{
				Type: "sequential", Status: "in_progress",
				CreatedAt: time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
				Steps: []StepInfo{
					{Name: "Partner review", Status: "approved", CurrentApprovals: 1, RequiredApprovals: 1},
					{Name: "Client approval", Status: "in_progress", CurrentApprovals: 0, RequiredApprovals: 1},
				},
			},
		},
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}

	for _, want := range []string{
		"Settlement Agreement",
		"Check clause 4.2",
		"Needs client sign-off",
		"Sent for signature",
		"v2 (latest)",
		"Partner review",
		"1/1",
		"Mar 10, 2025",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered report missing %q", want)
		}
	}
}

func TestRenderReportHTMLEscapesContent(t *testing.T) {
	data := TemplateData{
		Title: "<script>alert(1)</script>",
		Annotations: []AnnotationInfo{
			{PageNumber: 1, Type: "note", Content: "<img src=x onerror=alert(2)>", Author: "x"},
		},
	}
	html, err := RenderReportHTML(data)
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}
	if strings.Contains(html, "<script>alert(1)</script>") {
		t.Error("title not escaped")
	}
	if strings.Contains(html, "<img src=x") {
		t.Error("annotation content not escaped")
	}
}

func TestRenderReportHTMLOmitsEmptySections(t *testing.T) {
	html, err := RenderReportHTML(TemplateData{Title: "Bare"})
	if err != nil {
		t.Fatalf("RenderReportHTML() error = %v", err)
	}
	for _, section := range []string{"Annotations", "Comments", "Version History", "Approvals"} {
		if strings.Contains(html, "<h2>"+section+"</h2>") {
			t.Errorf("empty report should omit section %q", section)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "spaces to hyphens", input: "My Document", expected: "My-Document"},
		{name: "strips special chars", input: "a/b\\c:d*e", expected: "abcde"},
		{name: "empty falls back", input: "!!!", expected: "document"},
		{name: "keeps hyphens and underscores", input: "a-b_c", expected: "a-b_c"},
		{name: "truncates long titles", input: strings.Repeat("x", 80), expected: strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "unreserved untouched", input: "abc-_.~123", expected: "abc-_.~123"},
		{name: "space as percent-20", input: "a b", expected: "a%20b"},
		{name: "angle brackets encoded", input: "<p>", expected: "%3Cp%3E"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}
