package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"labsight-go/internal/model"
)

// DecodeCombined 宽松地解析客户端回传的批量分析结果（聊天上下文用）。
// 客户端可能直接转发模型的原始输出，因此每份报告的 analysis 都经过 Normalize；
// 只有整体不是 JSON 对象时才返回错误。Summary 按 Reports 重新计算。
func DecodeCombined(raw []byte) (*model.CombinedAnalysis, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("analysis results are not a JSON object: %w", err)
	}

	n := &normalizer{}
	combined := &model.CombinedAnalysis{TestType: toText(m["testType"])}

	if v, ok := m["reports"]; ok && v != nil {
		items, ok := v.([]any)
		if !ok {
			n.warnf("reports: expected array, got %T", v)
		}
		for i, item := range items {
			path := fmt.Sprintf("reports[%d]", i)
			rm, ok := n.section(path, item)
			if !ok {
				continue
			}
			combined.Reports = append(combined.Reports, n.report(path, rm))
		}
	}
	combined.Summarize()
	return combined, n.warnings, nil
}

func (n *normalizer) report(path string, m map[string]any) model.ReportAnalysis {
	r := model.ReportAnalysis{
		Filename: toText(m["filename"]),
		URL:      toText(m["url"]),
		Error:    toText(m["error"]),
	}
	if am, ok := n.section(path+".analysis", m["analysis"]); ok {
		res, warnings := Normalize(am)
		for _, w := range warnings {
			n.warnf("%s.analysis: %s", path, w)
		}
		r.Analysis = res
	}

	switch s := m["success"].(type) {
	case bool:
		r.Success = s
	case nil:
		r.Success = r.Analysis != nil
	default:
		r.Success = strings.EqualFold(toText(s), "true")
	}
	return r
}
