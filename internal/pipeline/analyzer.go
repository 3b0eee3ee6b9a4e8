// Package pipeline 定义了化验单图片解读的核心流程：构造提示词、调用模型、提取 JSON、汇总批量结果。
package pipeline

import (
	"context"
	"errors"
	"time"

	"labsight-go/internal/model"
	"labsight-go/pkg/fetcher"
	"labsight-go/pkg/llm"
	"labsight-go/pkg/log"
	"labsight-go/pkg/metrics"
	"labsight-go/pkg/retry"

	"golang.org/x/sync/errgroup"
)

// ImageFetcher 下载图片并编码为模型可接受的内联图片。
type ImageFetcher interface {
	FetchEncoded(ctx context.Context, url string) (llm.InlineImage, error)
}

// Analyzer 负责单张和批量化验单解读。
type Analyzer struct {
	client      llm.Client
	fetcher     ImageFetcher
	policy      retry.Policy
	now         func() time.Time
	concurrency int
}

// AnalyzerOption 配置 Analyzer。
type AnalyzerOption func(*Analyzer)

// WithConcurrency 限制批量分析的并发数，<=0 表示每张图片一个 goroutine。
func WithConcurrency(n int) AnalyzerOption {
	return func(a *Analyzer) { a.concurrency = n }
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer 创建一个新的 Analyzer 实例。
func NewAnalyzer(client llm.Client, images ImageFetcher, policy retry.Policy, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		client:  client,
		fetcher: images,
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	onRetry := a.policy.OnRetry
	a.policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.ModelRetriesTotal.Inc()
		log.Warnf("[Analyzer] 模型服务过载, 第 %d 次尝试失败, %.1fs 后重试: %v", attempt+1, delay.Seconds(), err)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return a
}

// AnalyzeImage 下载一张化验单图片并交给模型解读，返回结构化结果。
// 图片只下载一次；模型调用在服务过载时按重试策略退避重试，其它错误直接返回。
func (a *Analyzer) AnalyzeImage(ctx context.Context, url, testType string) (result *model.AnalysisResult, err error) {
	start := time.Now()
	defer func() {
		metrics.AnalysisDurationSeconds.Observe(time.Since(start).Seconds())
		metrics.AnalysesTotal.WithLabelValues(resultLabel(err)).Inc()
	}()

	img, err := a.fetcher.FetchEncoded(ctx, url)
	if err != nil {
		return nil, err
	}

	prompt := BuildAnalysisPrompt(testType, a.now())
	raw, err := retry.Do(ctx, a.policy, func(ctx context.Context) (map[string]any, error) {
		text, err := a.client.GenerateContent(ctx, prompt, img)
		if err != nil {
			return nil, err
		}
		return ExtractJSON(text)
	})
	if err != nil {
		if llm.IsOverloaded(err) {
			log.Errorf("[Analyzer] 模型服务多次重试后仍不可用, URL: %s", url)
		}
		return nil, err
	}

	result, warnings := Normalize(raw)
	for _, w := range warnings {
		log.Warnw("[Analyzer] 模型输出与预期结构不符", "url", url, "warning", w)
	}
	return result, nil
}

// AnalyzeBatch 并发解读多张图片。返回结果与输入顺序一致，单张失败不影响其它图片。
func (a *Analyzer) AnalyzeBatch(ctx context.Context, images []model.ImageRef, testType string) *model.CombinedAnalysis {
	reports := make([]model.ReportAnalysis, len(images))

	var g errgroup.Group
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			res, err := a.AnalyzeImage(ctx, img.URL, testType)
			r := model.ReportAnalysis{Filename: img.Filename, URL: img.URL}
			if err != nil {
				log.Errorf("[Analyzer] 分析 %s 失败: %v", img.Filename, err)
				r.Error = err.Error()
			} else {
				r.Analysis = res
				r.Success = true
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()

	combined := &model.CombinedAnalysis{TestType: testType, Reports: reports}
	combined.Summarize()
	return combined
}

func resultLabel(err error) string {
	var fe *fetcher.FetchError
	var pe *ParseError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &fe):
		return "fetch_error"
	case errors.As(err, &pe):
		return "parse_error"
	default:
		return "model_error"
	}
}
