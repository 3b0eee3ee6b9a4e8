// Package model 定义了分析结果、报告记录和聊天消息等数据模型。
package model

// 参数状态的声明取值。
const (
	StatusNormal     = "Normal"
	StatusHigh       = "High"
	StatusLow        = "Low"
	StatusCritical   = "Critical"
	StatusBorderline = "Borderline"
)

// 总体状态的声明取值。
const (
	OverallNormal   = "Normal"
	OverallAbnormal = "Abnormal"
	OverallCritical = "Critical"
)

// ParameterStatuses 是 Parameter.Status 的封闭取值集合。
var ParameterStatuses = []string{StatusNormal, StatusHigh, StatusLow, StatusCritical, StatusBorderline}

// OverallStatuses 是 Summary.OverallStatus 的封闭取值集合。
var OverallStatuses = []string{OverallNormal, OverallAbnormal, OverallCritical}

// AnalysisResult 是单张化验单图片经模型解读后的结构化结果。
type AnalysisResult struct {
	Parameters       []Parameter      `json:"parameters" bson:"parameters"`
	Summary          Summary          `json:"summary" bson:"summary"`
	Recommendations  Recommendations  `json:"recommendations" bson:"recommendations"`
	ClinicalInsights ClinicalInsights `json:"clinicalInsights" bson:"clinicalInsights"`
	Metadata         Metadata         `json:"metadata" bson:"metadata"`
}

// Parameter 是一项化验指标。
type Parameter struct {
	Name               string `json:"name" bson:"name"`
	Value              string `json:"value" bson:"value"`
	ReferenceRange     string `json:"referenceRange" bson:"referenceRange"`
	Status             string `json:"status" bson:"status"`
	Interpretation     string `json:"interpretation" bson:"interpretation"`
	ClinicalImportance string `json:"clinicalImportance" bson:"clinicalImportance"`
}

type Summary struct {
	OverallStatus   string `json:"overallStatus" bson:"overallStatus"`
	KeyFindings     string `json:"keyFindings" bson:"keyFindings"`
	PatternAnalysis string `json:"patternAnalysis" bson:"patternAnalysis"`
	RiskAssessment  string `json:"riskAssessment" bson:"riskAssessment"`
}

type Recommendations struct {
	ImmediateActions       string `json:"immediateActions" bson:"immediateActions"`
	LifestyleModifications string `json:"lifestyleModifications" bson:"lifestyleModifications"`
	FollowUpTests          string `json:"followUpTests" bson:"followUpTests"`
	MedicalConsultation    string `json:"medicalConsultation" bson:"medicalConsultation"`
	Monitoring             string `json:"monitoring" bson:"monitoring"`
}

type ClinicalInsights struct {
	Correlations       string `json:"correlations" bson:"correlations"`
	PossibleCauses     string `json:"possibleCauses" bson:"possibleCauses"`
	PreventiveMeasures string `json:"preventiveMeasures" bson:"preventiveMeasures"`
	Prognosis          string `json:"prognosis" bson:"prognosis"`
}

// Metadata 描述模型对本次解读质量的自评。
type Metadata struct {
	AnalysisQuality string `json:"analysisQuality" bson:"analysisQuality"`
	Completeness    string `json:"completeness" bson:"completeness"`
	Confidence      string `json:"confidence" bson:"confidence"`
	Notes           string `json:"notes" bson:"notes"`
}

// ImageRef 是一张已托管的报告图片。
type ImageRef struct {
	URL      string `json:"url" binding:"required"`
	Filename string `json:"filename"`
}

// ReportAnalysis 是批量分析中单张图片的结果，失败时 Analysis 为空并带 Error。
type ReportAnalysis struct {
	Filename string          `json:"filename"`
	URL      string          `json:"url"`
	Analysis *AnalysisResult `json:"analysis"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
}

// AnalysisSummary 汇总批量分析的成功/失败数量。
type AnalysisSummary struct {
	TotalReports       int `json:"totalReports"`
	SuccessfulAnalyses int `json:"successfulAnalyses"`
	FailedAnalyses     int `json:"failedAnalyses"`
}

// CombinedAnalysis 是一次批量分析的整体结果，Reports 与输入顺序一致。
type CombinedAnalysis struct {
	TestType string           `json:"testType"`
	Reports  []ReportAnalysis `json:"reports"`
	Summary  AnalysisSummary  `json:"summary"`
}

// Summarize 根据 Reports 重新计算 Summary。
func (c *CombinedAnalysis) Summarize() {
	s := AnalysisSummary{TotalReports: len(c.Reports)}
	for _, r := range c.Reports {
		if r.Success {
			s.SuccessfulAnalyses++
		} else {
			s.FailedAnalyses++
		}
	}
	c.Summary = s
}
