package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"labsight-go/internal/model"
	"labsight-go/internal/repository"
	"labsight-go/pkg/llm"
	"labsight-go/pkg/storage"
	"labsight-go/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- fakes ----

type stubBatch struct {
	images []model.ImageRef
}

func (s *stubBatch) AnalyzeBatch(_ context.Context, images []model.ImageRef, testType string) *model.CombinedAnalysis {
	s.images = images
	c := &model.CombinedAnalysis{TestType: testType}
	for _, img := range images {
		c.Reports = append(c.Reports, model.ReportAnalysis{
			Filename: img.Filename, URL: img.URL, Success: true,
			Analysis: &model.AnalysisResult{Summary: model.Summary{OverallStatus: "Normal"}},
		})
	}
	c.Summarize()
	return c
}

type memReports struct {
	saved []*model.Report
	err   error
}

func (m *memReports) Create(_ context.Context, r *model.Report) error {
	if m.err != nil {
		return m.err
	}
	r.ID = uint(len(m.saved) + 1)
	m.saved = append(m.saved, r)
	return nil
}

func (m *memReports) CreateBatch(_ context.Context, rs []*model.Report) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, rs...)
	return nil
}

func (m *memReports) FindAll(context.Context) ([]model.Report, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]model.Report, 0, len(m.saved))
	for i := len(m.saved) - 1; i >= 0; i-- {
		out = append(out, *m.saved[i])
	}
	return out, nil
}

type recordingProducer struct {
	tasks []tasks.AnalysisTask
	err   error
}

func (p *recordingProducer) ProduceAnalysisTask(_ context.Context, t tasks.AnalysisTask) error {
	p.tasks = append(p.tasks, t)
	return p.err
}

type scriptedLLM struct {
	text    string
	chunks  []string
	err     error
	prompts []string
}

func (s *scriptedLLM) GenerateContent(_ context.Context, prompt string, _ ...llm.InlineImage) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.text, s.err
}

func (s *scriptedLLM) StreamContent(_ context.Context, prompt string, w llm.MessageWriter) error {
	s.prompts = append(s.prompts, prompt)
	for _, c := range s.chunks {
		if err := w.WriteMessage(websocket.TextMessage, []byte(c)); err != nil {
			return err
		}
	}
	return s.err
}

type frameRecorder struct {
	frames []map[string]any
}

func (f *frameRecorder) WriteMessage(_ int, data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.frames = append(f.frames, m)
	return nil
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memStore) PutImage(_ context.Context, objectName string, r io.Reader, _ int64, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	b, _ := io.ReadAll(r)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectName] = b
	return "https://cdn.example.com/" + objectName, nil
}

// ---- analysis ----

func TestAnalysisService_Analyze(t *testing.T) {
	reports := &memReports{}
	svc := NewAnalysisService(&stubBatch{}, reports, nil, nil)

	images := []model.ImageRef{{URL: "https://img/1.jpg", Filename: "1.jpg"}, {URL: "https://img/2.jpg", Filename: "2.jpg"}}
	combined, err := svc.Analyze(context.Background(), images, "CBC")
	require.NoError(t, err)
	assert.Equal(t, 2, combined.Summary.TotalReports)
	require.Len(t, reports.saved, 2)
	assert.Equal(t, "CBC", reports.saved[0].TestName)
	assert.Equal(t, "2.jpg", reports.saved[1].Filename)
}

func TestAnalysisService_Validation(t *testing.T) {
	svc := NewAnalysisService(&stubBatch{}, &memReports{}, nil, nil)

	_, err := svc.Analyze(context.Background(), nil, "CBC")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Analyze(context.Background(), []model.ImageRef{{URL: "u"}}, " ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Analyze(context.Background(), []model.ImageRef{{URL: ""}}, "CBC")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAnalysisService_StorageFailure(t *testing.T) {
	svc := NewAnalysisService(&stubBatch{}, &memReports{err: errors.New("disk full")}, nil, nil)
	_, err := svc.Analyze(context.Background(), []model.ImageRef{{URL: "u", Filename: "a"}}, "CBC")
	assert.ErrorIs(t, err, ErrStorage)
}

func TestAnalysisService_Submit(t *testing.T) {
	mr := miniredis.RunT(t)
	jobs := repository.NewJobRepository(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	producer := &recordingProducer{}
	svc := NewAnalysisService(&stubBatch{}, &memReports{}, jobs, producer)

	job, err := svc.Submit(context.Background(), []model.ImageRef{{URL: "u", Filename: "a.jpg"}}, "CBC")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	require.Len(t, producer.tasks, 1)
	assert.Equal(t, job.ID, producer.tasks[0].JobID)

	got, err := svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "CBC", got.TestType)

	_, err = svc.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestAnalysisService_SubmitEnqueueFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	jobs := repository.NewJobRepository(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	producer := &recordingProducer{err: errors.New("broker down")}
	svc := NewAnalysisService(&stubBatch{}, &memReports{}, jobs, producer)

	_, err := svc.Submit(context.Background(), []model.ImageRef{{URL: "u"}}, "CBC")
	require.Error(t, err)

	job, err := jobs.Get(context.Background(), producer.tasks[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
}

// ---- reports ----

func TestReportService(t *testing.T) {
	repo := &memReports{}
	svc := NewReportService(repo)
	ctx := context.Background()

	err := svc.Create(ctx, &model.Report{TestName: "CBC"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	err = svc.Create(ctx, &model.Report{TestName: "CBC", ReportImageURL: "u", AIResultJSON: []byte("{oops")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	r := &model.Report{TestName: "CBC", ReportImageURL: "u1"}
	require.NoError(t, svc.Create(ctx, r))
	assert.Equal(t, "null", string(r.AIResultJSON))
	require.NoError(t, svc.Create(ctx, &model.Report{TestName: "Lipid", ReportImageURL: "u2", AIResultJSON: []byte(`{"summary":{}}`)}))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Lipid", list[0].TestName)

	_, err = NewReportService(&memReports{err: errors.New("down")}).List(ctx)
	assert.ErrorIs(t, err, ErrStorage)
}

// ---- chat ----

func chatRequest() ChatRequest {
	results := &model.CombinedAnalysis{
		TestType: "CBC",
		Reports: []model.ReportAnalysis{
			{Filename: "a.jpg", Success: true, Analysis: &model.AnalysisResult{Parameters: []model.Parameter{{Name: "Hemoglobin", Value: "9 g/dL", Status: "Low"}}}},
			{Filename: "b.jpg", Error: "fetch failed"},
		},
	}
	raw, _ := json.Marshal(results)
	return ChatRequest{Message: "Why am I tired?", AnalysisResults: raw, TestType: "CBC", SessionID: "s1"}
}

func TestChatService_Reply(t *testing.T) {
	mr := miniredis.RunT(t)
	sessions := repository.NewChatSessionRepository(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	client := &scriptedLLM{text: "## 🎯 **Direct Answer**\nLow hemoglobin."}
	svc := NewChatService(client, sessions)

	reply, err := svc.Reply(context.Background(), chatRequest())
	require.NoError(t, err)
	assert.Equal(t, client.text, reply.Response)
	assert.False(t, reply.Timestamp.IsZero())

	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "REPORT 1: a.jpg")
	assert.Contains(t, client.prompts[0], "REPORT 2: b.jpg\nStatus: Analysis Failed\nError: fetch failed")
	assert.Contains(t, client.prompts[0], `PATIENT QUESTION: "Why am I tired?"`)

	history, err := svc.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.RoleUser, history[0].Role)
	assert.Equal(t, model.RoleExpert, history[1].Role)
}

func TestChatService_ReplyWithRawModelResults(t *testing.T) {
	client := &scriptedLLM{text: "fine"}
	svc := NewChatService(client, nil)

	raw := json.RawMessage(`{"testType":"CBC","reports":[{"filename":"a.jpg","success":true,
		"analysis":{"parameters":[{"name":"Hemoglobin","value":14.5,"referenceRange":"13.5-17.5","status":"normal"}]}}]}`)
	_, err := svc.Reply(context.Background(), ChatRequest{Message: "Is my hemoglobin ok?", AnalysisResults: raw})
	require.NoError(t, err)
	require.Len(t, client.prompts, 1)
	assert.Contains(t, client.prompts[0], "• Hemoglobin: 14.5 (Reference: 13.5-17.5) - Status: Normal")

	// 无法解析的上下文被忽略，问题照常回答
	_, err = svc.Reply(context.Background(), ChatRequest{Message: "Hello", AnalysisResults: json.RawMessage(`"oops"`)})
	require.NoError(t, err)
	require.Len(t, client.prompts, 2)
	assert.NotContains(t, client.prompts[1], "PATIENT'S RECENT BLOOD TEST RESULTS")
}

func TestChatService_ReplyFallback(t *testing.T) {
	client := &scriptedLLM{err: &llm.APIError{StatusCode: 503, Message: "overloaded"}}
	svc := NewChatService(client, nil)

	reply, err := svc.Reply(context.Background(), ChatRequest{Message: "Hello"})
	require.Error(t, err)
	assert.Equal(t, FallbackResponse, reply.Response)
	// 聊天不重试
	assert.Len(t, client.prompts, 1)

	_, err = svc.Reply(context.Background(), ChatRequest{Message: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestChatService_StreamReply(t *testing.T) {
	client := &scriptedLLM{chunks: []string{"## Direct", " Answer"}}
	svc := NewChatService(client, nil)
	rec := &frameRecorder{}

	require.NoError(t, svc.StreamReply(context.Background(), ChatRequest{Message: "Hi"}, rec, nil))
	require.Len(t, rec.frames, 3)
	assert.Equal(t, "## Direct", rec.frames[0]["chunk"])
	assert.Equal(t, " Answer", rec.frames[1]["chunk"])
	assert.Equal(t, "completion", rec.frames[2]["type"])
}

func TestChatService_StreamReplyFallback(t *testing.T) {
	client := &scriptedLLM{err: errors.New("connection reset")}
	svc := NewChatService(client, nil)
	rec := &frameRecorder{}

	err := svc.StreamReply(context.Background(), ChatRequest{Message: "Hi"}, rec, nil)
	require.Error(t, err)
	require.Len(t, rec.frames, 2)
	assert.Equal(t, FallbackResponse, rec.frames[0]["chunk"])
	assert.Equal(t, "completion", rec.frames[1]["type"])
}

func TestChatService_StreamStopFlag(t *testing.T) {
	client := &scriptedLLM{chunks: []string{"a", "b"}}
	svc := NewChatService(client, nil)
	rec := &frameRecorder{}

	require.NoError(t, svc.StreamReply(context.Background(), ChatRequest{Message: "Hi"}, rec, func() bool { return true }))
	require.Len(t, rec.frames, 1)
	assert.Equal(t, "completion", rec.frames[0]["type"])
}

// ---- upload ----

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0x01, 0x00, 0x00, 0x01}

type part struct {
	name        string
	contentType string
	data        []byte
}

func multipartFiles(t *testing.T, parts ...part) []*multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))
	return req.MultipartForm.File["files"]
}

func TestUploadService_Upload(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	svc := NewUploadService(store, 1024)

	files := multipartFiles(t,
		part{name: "first.JPG", contentType: "image/jpeg", data: jpegBytes},
		part{name: "second.jpg", contentType: "image/jpeg", data: jpegBytes},
	)
	refs, err := svc.Upload(context.Background(), files)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "first.JPG", refs[0].Filename)
	assert.True(t, strings.HasPrefix(refs[0].URL, "https://cdn.example.com/reports/"))
	assert.True(t, strings.HasSuffix(refs[0].URL, ".jpg"))
	assert.Len(t, store.objects, 2)
}

func TestUploadService_Validation(t *testing.T) {
	store := &memStore{objects: map[string][]byte{}}
	svc := NewUploadService(store, 20)

	files := multipartFiles(t,
		part{name: "ok.jpg", contentType: "image/jpeg", data: jpegBytes},
		part{name: "notes.txt", contentType: "text/plain", data: []byte("hello")},
		part{name: "fake.png", contentType: "image/png", data: []byte("not really an image")},
		part{name: "big.jpg", contentType: "image/jpeg", data: append(append([]byte{}, jpegBytes...), make([]byte, 32)...)},
	)
	_, err := svc.Upload(context.Background(), files)

	var verr *UploadValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []FileError{
		{Filename: "notes.txt", Error: "invalid file type: notes.txt"},
		{Filename: "fake.png", Error: "invalid file type: fake.png"},
		{Filename: "big.jpg", Error: "file too large: big.jpg"},
	}, verr.Files)
	assert.Empty(t, store.objects)
}

func TestUploadService_Errors(t *testing.T) {
	_, err := NewUploadService(&memStore{}, 0).Upload(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)

	files := multipartFiles(t, part{name: "a.jpg", contentType: "image/jpeg", data: jpegBytes})
	_, err = NewUploadService(nil, 0).Upload(context.Background(), files)
	assert.ErrorIs(t, err, storage.ErrNotConfigured)

	_, err = NewUploadService(&memStore{err: errors.New("denied")}, 0).Upload(context.Background(), files)
	assert.ErrorContains(t, err, "upload failed for a.jpg")
}
