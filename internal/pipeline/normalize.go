package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"labsight-go/internal/model"
)

// Normalize 把 ExtractJSON 得到的宽松 map 转成类型化的 AnalysisResult。
//   - 缺失的部分保持零值
//   - 数字、布尔、数组、对象统一转成文本
//   - status / overallStatus 不区分大小写地规范为声明的取值，未知取值原样保留
//
// 返回的 warnings 记录未知字段和未知枚举值，由调用方写日志。
func Normalize(raw map[string]any) (*model.AnalysisResult, []string) {
	n := &normalizer{}
	res := &model.AnalysisResult{}

	n.object("", raw, map[string]func(any){
		"parameters":       func(v any) { res.Parameters = n.parameters(v) },
		"summary":          func(v any) { n.summary(v, &res.Summary) },
		"recommendations":  func(v any) { n.recommendations(v, &res.Recommendations) },
		"clinicalInsights": func(v any) { n.insights(v, &res.ClinicalInsights) },
		"metadata":         func(v any) { n.metadata(v, &res.Metadata) },
	})
	return res, n.warnings
}

type normalizer struct {
	warnings []string
}

func (n *normalizer) warnf(format string, args ...any) {
	n.warnings = append(n.warnings, fmt.Sprintf(format, args...))
}

// object 按 key 排序遍历 m，已知 key 交给对应的 setter，其余记为警告。
func (n *normalizer) object(path string, m map[string]any, fields map[string]func(any)) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if set, ok := fields[k]; ok {
			set(m[k])
			continue
		}
		n.warnf("unknown key %q", join(path, k))
	}
}

func (n *normalizer) section(path string, v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		n.warnf("%s: expected object, got %T", path, v)
		return nil, false
	}
	return m, true
}

func (n *normalizer) parameters(v any) []model.Parameter {
	if v == nil {
		return nil
	}
	items, ok := v.([]any)
	if !ok {
		n.warnf("parameters: expected array, got %T", v)
		return nil
	}

	params := make([]model.Parameter, 0, len(items))
	for i, item := range items {
		path := fmt.Sprintf("parameters[%d]", i)
		m, ok := n.section(path, item)
		if !ok {
			continue
		}
		var p model.Parameter
		n.object(path, m, map[string]func(any){
			"name":               text(&p.Name),
			"value":              text(&p.Value),
			"referenceRange":     text(&p.ReferenceRange),
			"status":             n.enum(path+".status", model.ParameterStatuses, &p.Status),
			"interpretation":     text(&p.Interpretation),
			"clinicalImportance": text(&p.ClinicalImportance),
		})
		params = append(params, p)
	}
	return params
}

func (n *normalizer) summary(v any, s *model.Summary) {
	m, ok := n.section("summary", v)
	if !ok {
		return
	}
	n.object("summary", m, map[string]func(any){
		"overallStatus":   n.enum("summary.overallStatus", model.OverallStatuses, &s.OverallStatus),
		"keyFindings":     text(&s.KeyFindings),
		"patternAnalysis": text(&s.PatternAnalysis),
		"riskAssessment":  text(&s.RiskAssessment),
	})
}

func (n *normalizer) recommendations(v any, r *model.Recommendations) {
	m, ok := n.section("recommendations", v)
	if !ok {
		return
	}
	n.object("recommendations", m, map[string]func(any){
		"immediateActions":       text(&r.ImmediateActions),
		"lifestyleModifications": text(&r.LifestyleModifications),
		"followUpTests":          text(&r.FollowUpTests),
		"medicalConsultation":    text(&r.MedicalConsultation),
		"monitoring":             text(&r.Monitoring),
	})
}

func (n *normalizer) insights(v any, c *model.ClinicalInsights) {
	m, ok := n.section("clinicalInsights", v)
	if !ok {
		return
	}
	n.object("clinicalInsights", m, map[string]func(any){
		"correlations":       text(&c.Correlations),
		"possibleCauses":     text(&c.PossibleCauses),
		"preventiveMeasures": text(&c.PreventiveMeasures),
		"prognosis":          text(&c.Prognosis),
	})
}

func (n *normalizer) metadata(v any, md *model.Metadata) {
	m, ok := n.section("metadata", v)
	if !ok {
		return
	}
	var legacyNotes string
	n.object("metadata", m, map[string]func(any){
		"analysisQuality": text(&md.AnalysisQuality),
		"completeness":    text(&md.Completeness),
		"confidence":      text(&md.Confidence),
		"notes":           text(&md.Notes),
		// 旧版提示词把备注字段命名为 recommendations
		"recommendations": text(&legacyNotes),
	})
	if md.Notes == "" {
		md.Notes = legacyNotes
	}
}

// enum 返回一个 setter：大小写不敏感地匹配 allowed，匹配不到时保留原值并记录警告。
func (n *normalizer) enum(path string, allowed []string, dst *string) func(any) {
	return func(v any) {
		s := strings.TrimSpace(toText(v))
		if s == "" {
			*dst = ""
			return
		}
		for _, a := range allowed {
			if strings.EqualFold(s, a) {
				*dst = a
				return
			}
		}
		n.warnf("%s: unknown value %q", path, s)
		*dst = s
	}
}

func text(dst *string) func(any) {
	return func(v any) { *dst = toText(v) }
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := toText(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
