package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/patentforge/internal/app"
	"github.com/bobmcallan/patentforge/internal/common"
	"github.com/bobmcallan/patentforge/internal/models"
)

// mockTaskManager records calls and serves canned answers.
type mockTaskManager struct {
	submitID  string
	submitErr error
	submitted []models.GenerateRequest
	tasks     map[string]models.Task
	cancelled []string
	late      bool
	cancelErr error
	stats     models.TaskStatistics
}

func (m *mockTaskManager) Submit(req models.GenerateRequest) (string, error) {
	m.submitted = append(m.submitted, req)
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return m.submitID, nil
}

func (m *mockTaskManager) Get(taskID string) (models.Task, error) {
	task, ok := m.tasks[taskID]
	if !ok {
		return models.Task{}, models.NewError(models.ErrNotFound, "task not found: "+taskID)
	}
	return task, nil
}

func (m *mockTaskManager) Cancel(taskID string) (bool, error) {
	m.cancelled = append(m.cancelled, taskID)
	if m.cancelErr != nil {
		return false, m.cancelErr
	}
	return m.late, nil
}

func (m *mockTaskManager) Statistics() models.TaskStatistics { return m.stats }
func (m *mockTaskManager) Start()                            {}
func (m *mockTaskManager) Stop()                             {}

// mockGenerator returns a fixed result or error.
type mockGenerator struct {
	result *models.GenerateResult
	err    error
	reqs   []models.GenerateRequest
}

func (m *mockGenerator) Execute(_ context.Context, taskID string, req models.GenerateRequest, _ func(int, string), _ func() bool) (*models.GenerateResult, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	r := *m.result
	r.TaskID = taskID
	return &r, nil
}

// mockTemplates serves a static descriptor list.
type mockTemplates struct {
	list      []models.TemplateDescriptor
	defaultID string
}

func (m *mockTemplates) List() []models.TemplateDescriptor { return m.list }
func (m *mockTemplates) Get(id string) (models.TemplateDescriptor, bool) {
	for _, d := range m.list {
		if d.ID == id {
			return d, true
		}
	}
	return models.TemplateDescriptor{}, false
}
func (m *mockTemplates) DefaultID() string { return m.defaultID }
func (m *mockTemplates) Reload() error     { return nil }

// mockUserPrompts is an in-memory prompt store.
type mockUserPrompts struct {
	prompts map[string]string
	setErr  error
}

func (m *mockUserPrompts) Get(role string) string { return m.prompts[role] }
func (m *mockUserPrompts) All() map[string]string {
	out := make(map[string]string, len(m.prompts))
	for k, v := range m.prompts {
		out[k] = v
	}
	return out
}
func (m *mockUserPrompts) Set(role, prompt string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.prompts[role] = prompt
	return nil
}
func (m *mockUserPrompts) Delete(role string) error {
	delete(m.prompts, role)
	return nil
}
func (m *mockUserPrompts) Stats() models.UserPromptStats {
	return models.UserPromptStats{
		HasWriterPrompt:   m.prompts["writer"] != "",
		HasReviewerPrompt: m.prompts["reviewer"] != "",
	}
}

// mockConversations serves recorded runs from maps.
type mockConversations struct {
	tasks  []models.ConversationTask
	rounds map[string][]int
	detail map[string]map[int]models.RoundDetail
}

func (m *mockConversations) CreateTask(context.Context, models.ConversationTask) error { return nil }
func (m *mockConversations) LogRound(context.Context, string, int, string, string, string) error {
	return nil
}
func (m *mockConversations) UpdateTaskStatus(context.Context, string, string) error { return nil }
func (m *mockConversations) Tasks(context.Context) ([]models.ConversationTask, error) {
	return m.tasks, nil
}
func (m *mockConversations) Task(_ context.Context, taskID string) (models.ConversationTask, error) {
	for _, t := range m.tasks {
		if t.ID == taskID {
			return t, nil
		}
	}
	return models.ConversationTask{}, models.NewError(models.ErrNotFound, "task not found: "+taskID)
}
func (m *mockConversations) Rounds(_ context.Context, taskID string) ([]int, error) {
	return m.rounds[taskID], nil
}
func (m *mockConversations) Round(_ context.Context, taskID string, round int) (models.RoundDetail, error) {
	if d, ok := m.detail[taskID][round]; ok {
		return d, nil
	}
	return models.RoundDetail{}, models.NewError(models.ErrNotFound, "round not found")
}
func (m *mockConversations) DeleteTask(_ context.Context, taskID string) error {
	for i, t := range m.tasks {
		if t.ID == taskID {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return nil
		}
	}
	return models.NewError(models.ErrNotFound, "task not found: "+taskID)
}
func (m *mockConversations) Close() error { return nil }

type serverFixture struct {
	handler       http.Handler
	tasks         *mockTaskManager
	generator     *mockGenerator
	templates     *mockTemplates
	userPrompts   *mockUserPrompts
	conversations *mockConversations
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	f := &serverFixture{
		tasks: &mockTaskManager{
			submitID: "task-async-1",
			tasks:    map[string]models.Task{},
		},
		generator: &mockGenerator{
			result: &models.GenerateResult{
				OutputPath: "/tmp/output/patent_x.md",
				Iterations: 1,
				LastReview: "合规性良好",
			},
		},
		templates:     &mockTemplates{},
		userPrompts:   &mockUserPrompts{prompts: map[string]string{}},
		conversations: &mockConversations{rounds: map[string][]int{}, detail: map[string]map[int]models.RoundDetail{}},
	}

	a := &app.App{
		Config:        common.NewDefaultConfig(),
		Logger:        common.NewSilentLogger(),
		Tasks:         f.tasks,
		Generator:     f.generator,
		Templates:     f.templates,
		UserPrompts:   f.userPrompts,
		Conversations: f.conversations,
	}
	f.handler = NewServer(a).Handler()
	return f
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestVersionEndpoint(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/version", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "build")
}

func TestGenerateSyncIdeaMode(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/generate", map[string]interface{}{
		"mode":       "idea",
		"ideaText":   "一种基于访问频率的缓存淘汰策略",
		"iterations": 1,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(1), body["iterations"])
	assert.NotEmpty(t, body["taskId"])
	assert.True(t, strings.HasSuffix(body["outputPath"].(string), ".md"))
	assert.Equal(t, "合规性良好", body["lastReviewPreview"])
}

func TestGenerateSyncTruncatesReviewPreview(t *testing.T) {
	f := newServerFixture(t)
	f.generator.result.LastReview = strings.Repeat("审", 3000)

	rec := f.do(t, http.MethodPost, "/api/generate", map[string]interface{}{
		"mode": "idea", "ideaText": "x", "iterations": 1,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeBody(t, rec)["lastReviewPreview"].(string)
	assert.Equal(t, 2000, len([]rune(preview)))
}

func TestGenerateRejectsBadMode(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/generate", map[string]interface{}{
		"mode": "dream", "iterations": 1,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid", decodeBody(t, rec)["error"])
	assert.Empty(t, f.generator.reqs)
}

func TestGenerateRejectsIterationsOutOfRange(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/generate", map[string]interface{}{
		"mode": "idea", "ideaText": "x", "iterations": 11,
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateDefaultsIterationsToOne(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/generate", map[string]interface{}{
		"mode": "idea", "ideaText": "x",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.generator.reqs, 1)
	assert.Equal(t, 1, f.generator.reqs[0].Iterations)
}

func TestGenerateRejectsOutputNameWithSeparators(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/generate", map[string]interface{}{
		"mode": "idea", "ideaText": "x", "outputName": "../escape",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateAsyncReturnsTaskID(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/generate/async", map[string]interface{}{
		"mode": "idea", "ideaText": "x", "iterations": 3,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "task-async-1", body["taskId"])
	require.Len(t, f.tasks.submitted, 1)
	assert.Equal(t, 3, f.tasks.submitted[0].Iterations)
}

func TestGenerateAsyncQueueFull(t *testing.T) {
	f := newServerFixture(t)
	f.tasks.submitErr = models.NewError(models.ErrQueueFull, "任务队列已满，请稍后再试")

	rec := f.do(t, http.MethodPost, "/api/generate/async", map[string]interface{}{
		"mode": "idea", "ideaText": "x", "iterations": 1,
	})

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "queue_full", decodeBody(t, rec)["error"])
}

func TestTaskStatus(t *testing.T) {
	f := newServerFixture(t)
	f.tasks.tasks["t1"] = models.Task{
		ID:       "t1",
		Status:   models.TaskStatusRunning,
		Progress: 40,
		Message:  "第 2/3 轮：修改草案",
	}

	rec := f.do(t, http.MethodGet, "/api/tasks/t1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, float64(40), body["progress"])
}

func TestTaskStatusNotFound(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/tasks/nope", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestTaskCancel(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/api/tasks/t1/cancel", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
	assert.Equal(t, []string{"t1"}, f.tasks.cancelled)
}

func TestTaskCancelLate(t *testing.T) {
	f := newServerFixture(t)
	f.tasks.late = true

	rec := f.do(t, http.MethodPost, "/api/tasks/t1/cancel", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.NotEmpty(t, body["message"])
}

func TestTaskStatistics(t *testing.T) {
	f := newServerFixture(t)
	f.tasks.stats = models.TaskStatistics{TotalTasks: 5, MaxWorkers: 3}

	rec := f.do(t, http.MethodGet, "/api/tasks/statistics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody(t, rec)["statistics"].(map[string]interface{})
	assert.Equal(t, float64(5), stats["totalTasks"])
}

func TestTemplatesList(t *testing.T) {
	f := newServerFixture(t)
	f.templates.list = []models.TemplateDescriptor{
		{ID: "invention_patent", Name: "Invention Patent", IsValid: true},
	}
	f.templates.defaultID = "invention_patent"

	rec := f.do(t, http.MethodGet, "/api/templates/", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "invention_patent", body["default_template_id"])
	assert.Len(t, body["templates"], 1)
}

func TestUserPromptsRoundTrip(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/user/prompts", map[string]string{
		"writer": "自定义撰写提示 </text> 结束",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])

	rec = f.do(t, http.MethodGet, "/api/user/prompts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	prompts := data["prompts"].(map[string]interface{})
	assert.Equal(t, "自定义撰写提示 </text> 结束", prompts["writer"])
	stats := data["stats"].(map[string]interface{})
	assert.Equal(t, true, stats["has_writer_prompt"])
}

func TestUserPromptsEmptyValueClears(t *testing.T) {
	f := newServerFixture(t)
	f.userPrompts.prompts["reviewer"] = "old"

	rec := f.do(t, http.MethodPost, "/api/user/prompts", map[string]string{"reviewer": ""})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.userPrompts.prompts["reviewer"])
}

func TestUserPromptDelete(t *testing.T) {
	f := newServerFixture(t)
	f.userPrompts.prompts["writer"] = "x"

	rec := f.do(t, http.MethodDelete, "/api/user/prompts/writer", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.userPrompts.prompts["writer"])
}

func TestConversationRounds(t *testing.T) {
	f := newServerFixture(t)
	f.conversations.tasks = []models.ConversationTask{{ID: "t1", Title: "测试任务"}}
	f.conversations.rounds["t1"] = []int{1, 2, 3}

	rec := f.do(t, http.MethodGet, "/api/conversations/tasks/t1/rounds", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []interface{}{float64(1), float64(2), float64(3)}, body["data"])
}

func TestConversationRoundsUnknownTask(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/conversations/tasks/nope/rounds", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationRoundDetail(t *testing.T) {
	f := newServerFixture(t)
	f.conversations.detail["t1"] = map[int]models.RoundDetail{
		2: {
			Modifier: &models.ConversationRound{Role: "modifier", Response: "修改后的草案"},
			Reviewer: &models.ConversationRound{Role: "reviewer", Response: "评审意见"},
		},
	}

	rec := f.do(t, http.MethodGet, "/api/conversations/tasks/t1/rounds/2", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Contains(t, data, "modifier")
	assert.Contains(t, data, "reviewer")
	assert.NotContains(t, data, "writer")
}

func TestConversationRoundRejectsBadIndex(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/conversations/tasks/t1/rounds/zero", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversationTaskDelete(t *testing.T) {
	f := newServerFixture(t)
	f.conversations.tasks = []models.ConversationTask{{ID: "t1"}}

	rec := f.do(t, http.MethodDelete, "/api/conversations/tasks/t1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.conversations.tasks)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodDelete, "/api/generate", nil)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodOptions, "/api/generate", nil)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCorrelationIDHeader(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)

	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestInternalErrorsAreTerse(t *testing.T) {
	f := newServerFixture(t)
	f.generator.err = models.NewError(models.ErrInternal, "sqlite disk corrupted at page 12")

	rec := f.do(t, http.MethodPost, "/api/generate", map[string]interface{}{
		"mode": "idea", "ideaText": "x", "iterations": 1,
	})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "服务器内部错误，请稍后重试", body["message"])
	assert.NotContains(t, body["message"], "sqlite")
}
