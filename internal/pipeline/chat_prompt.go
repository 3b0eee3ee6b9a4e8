package pipeline

import (
	"fmt"
	"strings"
	"time"

	"labsight-go/internal/model"
)

// ReportSeparator 分隔聊天上下文中的各份报告。
var ReportSeparator = "\n" + strings.Repeat("=", 80) + "\n\n"

// ComposeChatContext 把批量分析结果渲染成供对话使用的纯文本上下文。
// 报告按输入顺序编号（从 1 开始），失败的报告只输出文件名和错误。
func ComposeChatContext(reports []model.ReportAnalysis, testType string, now time.Time) string {
	sections := make([]string, 0, len(reports))
	for i, r := range reports {
		if r.Success && r.Analysis != nil {
			sections = append(sections, renderReport(i+1, r, testType, now))
			continue
		}
		errMsg := r.Error
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		sections = append(sections, fmt.Sprintf("REPORT %d: %s\nStatus: Analysis Failed\nError: %s", i+1, r.Filename, errMsg))
	}
	return strings.Join(sections, ReportSeparator)
}

func renderReport(n int, r model.ReportAnalysis, testType string, now time.Time) string {
	a := r.Analysis
	var b strings.Builder

	fmt.Fprintf(&b, "REPORT %d: %s\n", n, r.Filename)
	fmt.Fprintf(&b, "Test Type: %s\n", testType)
	fmt.Fprintf(&b, "Analysis Date: %s\n\n", now.Format("1/2/2006"))

	if len(a.Parameters) > 0 {
		b.WriteString("LABORATORY PARAMETERS:\n")
		for _, p := range a.Parameters {
			fmt.Fprintf(&b, "• %s: %s", p.Name, p.Value)
			if p.ReferenceRange != "" {
				fmt.Fprintf(&b, " (Reference: %s)", p.ReferenceRange)
			}
			fmt.Fprintf(&b, " - Status: %s", p.Status)
			if p.Interpretation != "" {
				fmt.Fprintf(&b, "\n  Interpretation: %s", p.Interpretation)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	writeSection(&b, "ANALYSIS SUMMARY:", [][2]string{
		{"Overall Status", a.Summary.OverallStatus},
		{"Key Findings", a.Summary.KeyFindings},
		{"Pattern Analysis", a.Summary.PatternAnalysis},
		{"Risk Assessment", a.Summary.RiskAssessment},
	})
	writeSection(&b, "MEDICAL RECOMMENDATIONS:", [][2]string{
		{"Immediate Actions", a.Recommendations.ImmediateActions},
		{"Lifestyle Modifications", a.Recommendations.LifestyleModifications},
		{"Follow-up Tests", a.Recommendations.FollowUpTests},
		{"Medical Consultation", a.Recommendations.MedicalConsultation},
		{"Monitoring", a.Recommendations.Monitoring},
	})
	writeSection(&b, "CLINICAL INSIGHTS:", [][2]string{
		{"Correlations", a.ClinicalInsights.Correlations},
		{"Possible Causes", a.ClinicalInsights.PossibleCauses},
		{"Preventive Measures", a.ClinicalInsights.PreventiveMeasures},
		{"Prognosis", a.ClinicalInsights.Prognosis},
	})

	b.WriteString("ANALYSIS DETAILS:\n")
	fmt.Fprintf(&b, "Quality: %s\n", orNA(a.Metadata.AnalysisQuality))
	fmt.Fprintf(&b, "Completeness: %s\n", orNA(a.Metadata.Completeness))
	fmt.Fprintf(&b, "Confidence: %s\n", orNA(a.Metadata.Confidence))
	if a.Metadata.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", a.Metadata.Notes)
	}
	return b.String()
}

// writeSection 只输出非空字段，字段全空时整个小节省略。
func writeSection(b *strings.Builder, title string, fields [][2]string) {
	var body strings.Builder
	for _, f := range fields {
		if f[1] != "" {
			fmt.Fprintf(&body, "%s: %s\n", f[0], f[1])
		}
	}
	if body.Len() == 0 {
		return
	}
	b.WriteString(title + "\n")
	b.WriteString(body.String())
	b.WriteString("\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

const chatPersona = `You are Dr. Sarah Mitchell, a board-certified internal medicine physician with 15+ years of clinical experience and specialized training in preventive medicine, nutrition, and lifestyle counseling. You are also a certified health coach and medical educator. You combine evidence-based medical knowledge with compassionate, patient-centered care.`

const chatFormat = `FORMATTING REQUIREMENTS:
Return your response using this exact markdown structure for proper display:

## 🎯 **Direct Answer**
[Provide a clear, concise answer to the main question]

## 📋 **Clinical Context**
[Explain relevant medical background and context]
[Reference specific blood test results when applicable]

## 💡 **Key Recommendations**
[Provide practical, actionable advice]

### Immediate Actions
- [Specific steps to take right away]
- [Urgent considerations if applicable]

### Lifestyle Modifications
- [Diet and nutrition recommendations]
- [Exercise and activity suggestions]
- [Sleep and stress management tips]

### Monitoring & Follow-up
- [What to track and observe]
- [When to schedule follow-up appointments]
- [Additional tests that may be needed]

## ⚠️ **Important Considerations**
[Red flags, when to seek medical attention]
[Limitations of this advice]
[When to consult healthcare professionals]

## 🌱 **Preventive Health Tips**
[Long-term wellness strategies]
[Healthy lifestyle habits]
[Regular health maintenance]

## 📚 **Additional Resources**
[Reliable sources for more information]
[Professional organizations or websites]

---

**🏥 Medical Disclaimer:** This information is for educational purposes only and does not constitute medical advice, diagnosis, or treatment. Always consult with qualified healthcare professionals for personalized medical guidance.

**📞 When to Seek Immediate Care:** If you experience severe symptoms, chest pain, difficulty breathing, or other medical emergencies, call emergency services immediately.

---

*Your health and well-being are important to me. Feel free to ask follow-up questions about any aspect of your health or blood test results.*`

// BuildChatPrompt 组合医生人设、可选的报告上下文、用户问题和回复格式要求。
func BuildChatPrompt(context, question string) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(chatPersona)
	b.WriteString("\n\n")
	if context != "" {
		b.WriteString("PATIENT'S RECENT BLOOD TEST RESULTS:\n")
		b.WriteString(context)
		b.WriteString("\n\nINTEGRATE these results naturally into your response when relevant to the patient's question. ")
		b.WriteString("Reference specific parameters, their values, and clinical significance when they relate to the query.\n\n")
	}
	fmt.Fprintf(&b, "\nPATIENT QUESTION: \"%s\"\n\n", question)
	b.WriteString(chatFormat)
	b.WriteString("\n")
	return b.String()
}
