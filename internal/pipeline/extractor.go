package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	fenceRe  = regexp.MustCompile("```(?:json)?")
	objectRe = regexp.MustCompile(`(?s)\{.*\}`)

	errNoJSONObject = errors.New("no JSON object found in response")
)

// ParseError 表示模型输出无法解析为 JSON，Raw 保留完整原始文本便于排查。
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse model response as JSON: %v. Raw output: %s", e.Err, e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractJSON 从模型的原始文本中取出 JSON 对象。
// 先去掉 markdown 代码块标记，再贪婪匹配第一个 '{' 到最后一个 '}' 之间的内容。
// 数字保留为 json.Number，由 Normalize 决定如何转成文本。
func ExtractJSON(raw string) (map[string]any, error) {
	cleaned := strings.TrimSpace(fenceRe.ReplaceAllString(raw, ""))

	span := objectRe.FindString(cleaned)
	if span == "" {
		return nil, &ParseError{Raw: raw, Err: errNoJSONObject}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(span)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if dec.More() {
		return nil, &ParseError{Raw: raw, Err: errors.New("unexpected data after JSON object")}
	}
	return obj, nil
}
