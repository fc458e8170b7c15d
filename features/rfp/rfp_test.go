package rfp_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bidwise/backend/features/rfp"
	"bidwise/backend/internal/answer"
	"bidwise/backend/internal/config"
)

type MockRepo struct {
	mock.Mock
}

func (m *MockRepo) SaveRFP(ctx context.Context, r *rfp.RFP) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepo) GetRFP(ctx context.Context, id string) (*rfp.RFP, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rfp.RFP), args.Error(1)
}

func (m *MockRepo) ListRFPs(ctx context.Context) ([]rfp.RFP, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rfp.RFP), args.Error(1)
}

func (m *MockRepo) UpdateRFPStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockRepo) BulkCreateQuestions(ctx context.Context, questions []rfp.Question) error {
	args := m.Called(ctx, questions)
	return args.Error(0)
}

func (m *MockRepo) GetQuestions(ctx context.Context, rfpID string) ([]rfp.Question, error) {
	args := m.Called(ctx, rfpID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rfp.Question), args.Error(1)
}

func (m *MockRepo) GetQuestion(ctx context.Context, id string) (*rfp.Question, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rfp.Question), args.Error(1)
}

func (m *MockRepo) UpdateQuestionAnswer(ctx context.Context, q *rfp.Question) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockRepo) SetAccepted(ctx context.Context, id string, accepted bool) error {
	args := m.Called(ctx, id, accepted)
	return args.Error(0)
}

func (m *MockRepo) CountQuestionsByStatus(ctx context.Context) (map[string]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, question string, history []answer.Turn) (answer.Result, error) {
	args := m.Called(ctx, question, history)
	return args.Get(0).(answer.Result), args.Error(1)
}

func TestService_Create_PreservesQuestionOrder(t *testing.T) {
	repo := new(MockRepo)
	svc := rfp.NewService(repo, new(MockPublisher), new(MockGenerator))

	repo.On("SaveRFP", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*rfp.RFP).ID = "r1"
	}).Return(nil)
	repo.On("BulkCreateQuestions", mock.Anything, mock.MatchedBy(func(qs []rfp.Question) bool {
		if len(qs) != 3 {
			return false
		}
		for i, q := range qs {
			if q.Position != i || q.RFPID != "r1" || q.Status != "pending" {
				return false
			}
		}
		return qs[1].Text == "" // blank rows survive upload
	})).Return(nil)

	sheet := &rfp.RFP{Name: "ACME RFP"}
	questions, err := svc.Create(context.Background(), sheet, []string{"What is your SLA?", "", "Describe your DR plan."})
	require.NoError(t, err)

	assert.Equal(t, rfp.SheetStatusDraft, sheet.Status)
	assert.Len(t, questions, 3)
	repo.AssertExpectations(t)
}

func TestService_Create_RequiresQuestions(t *testing.T) {
	svc := rfp.NewService(new(MockRepo), new(MockPublisher), new(MockGenerator))

	_, err := svc.Create(context.Background(), &rfp.RFP{Name: "empty"}, nil)
	assert.ErrorContains(t, err, "at least one question")
}

func TestService_GenerateAnswers_PublishesBatch(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	svc := rfp.NewService(repo, pub, new(MockGenerator))

	repo.On("GetRFP", mock.Anything, "r1").Return(&rfp.RFP{ID: "r1"}, nil)
	repo.On("UpdateRFPStatus", mock.Anything, "r1", rfp.SheetStatusAnswering).Return(nil)
	pub.On("Publish", config.TopicAnswerBatch, mock.MatchedBy(func(body []byte) bool {
		var p map[string]interface{}
		return json.Unmarshal(body, &p) == nil && p["rfp_id"] == "r1"
	})).Return(nil)

	require.NoError(t, svc.GenerateAnswers(context.Background(), "r1"))
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestService_GenerateAnswers_RollsBackStatusOnPublishFailure(t *testing.T) {
	repo := new(MockRepo)
	pub := new(MockPublisher)
	svc := rfp.NewService(repo, pub, new(MockGenerator))

	repo.On("GetRFP", mock.Anything, "r1").Return(&rfp.RFP{ID: "r1"}, nil)
	repo.On("UpdateRFPStatus", mock.Anything, "r1", rfp.SheetStatusAnswering).Return(nil)
	pub.On("Publish", config.TopicAnswerBatch, mock.Anything).Return(errors.New("nsq down"))
	repo.On("UpdateRFPStatus", mock.Anything, "r1", rfp.SheetStatusDraft).Return(nil)

	err := svc.GenerateAnswers(context.Background(), "r1")
	assert.Error(t, err)
	repo.AssertExpectations(t)
}

func TestService_Regenerate_Success(t *testing.T) {
	repo := new(MockRepo)
	gen := new(MockGenerator)
	svc := rfp.NewService(repo, new(MockPublisher), gen)

	repo.On("GetQuestion", mock.Anything, "q1").Return(&rfp.Question{
		ID: "q1", Text: "What is your uptime?", Accepted: true,
	}, nil)
	gen.On("Generate", mock.Anything, "What is your uptime?", mock.Anything).
		Return(answer.Result{Answer: "99.95% monthly.", Sources: []string{"doc:sla#0"}}, nil)
	repo.On("UpdateQuestionAnswer", mock.Anything, mock.MatchedBy(func(q *rfp.Question) bool {
		return q.Answer == "99.95% monthly." && q.Status == "completed" && !q.Accepted
	})).Return(nil)

	q, err := svc.Regenerate(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, []string{"doc:sla#0"}, q.Sources)
	assert.False(t, q.Accepted, "regeneration resets acceptance")
	repo.AssertExpectations(t)
}

func TestService_Regenerate_FailureAnnotatesQuestion(t *testing.T) {
	repo := new(MockRepo)
	gen := new(MockGenerator)
	svc := rfp.NewService(repo, new(MockPublisher), gen)

	repo.On("GetQuestion", mock.Anything, "q1").Return(&rfp.Question{ID: "q1", Text: "text"}, nil)
	gen.On("Generate", mock.Anything, "text", mock.Anything).
		Return(answer.Result{}, errors.New("rate limit exhausted"))
	repo.On("UpdateQuestionAnswer", mock.Anything, mock.MatchedBy(func(q *rfp.Question) bool {
		return q.Status == "failed" && q.Answer == answer.RetryHintMessage
	})).Return(nil)

	q, err := svc.Regenerate(context.Background(), "q1")
	assert.Error(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "failed", q.Status)
	repo.AssertExpectations(t)
}

func TestHandler_Create_Validation(t *testing.T) {
	handler := rfp.NewHandler(rfp.NewService(new(MockRepo), new(MockPublisher), new(MockGenerator)))

	cases := []struct {
		name string
		body string
	}{
		{name: "missing name", body: `{"questions":["q"]}`},
		{name: "missing questions", body: `{"name":"n"}`},
		{name: "bad json", body: `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.Create(w, httptest.NewRequest("POST", "/rfps", strings.NewReader(tc.body)))
			assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
		})
	}
}

func TestHandler_GenerateAnswers_NotFound(t *testing.T) {
	repo := new(MockRepo)
	handler := rfp.NewHandler(rfp.NewService(repo, new(MockPublisher), new(MockGenerator)))

	repo.On("GetRFP", mock.Anything, "missing").Return(nil, sql.ErrNoRows)

	req := httptest.NewRequest("POST", "/rfps/missing/answers", nil)
	req.SetPathValue("id", "missing")
	w := httptest.NewRecorder()
	handler.GenerateAnswers(w, req)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestPostgresRepo_GetQuestions(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := rfp.NewPostgresRepo(db)

	mockDB.ExpectQuery(regexp.QuoteMeta(`SELECT id, rfp_id, position, text, answer, sources, status, accepted FROM rfp_questions WHERE rfp_id = $1 ORDER BY position ASC`)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "rfp_id", "position", "text", "answer", "sources", "status", "accepted"}).
			AddRow("q1", "r1", 0, "What is your SLA?", "99.95%", pq.Array([]string{"doc:sla#0"}), "completed", true).
			AddRow("q2", "r1", 1, "Describe DR.", "", pq.Array([]string{}), "pending", false))

	questions, err := repo.GetQuestions(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, questions, 2)
	assert.Equal(t, []string{"doc:sla#0"}, questions[0].Sources)
	assert.True(t, questions[0].Accepted)
	assert.Equal(t, 1, questions[1].Position)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

func TestPostgresRepo_SaveRFP(t *testing.T) {
	db, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := rfp.NewPostgresRepo(db)
	now := time.Now()

	mockDB.ExpectQuery(regexp.QuoteMeta(`INSERT INTO rfps (name, status) VALUES ($1, $2) RETURNING id, created_at, updated_at`)).
		WithArgs("ACME", rfp.SheetStatusDraft).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow("r1", now, now))

	sheet := &rfp.RFP{Name: "ACME", Status: rfp.SheetStatusDraft}
	require.NoError(t, repo.SaveRFP(context.Background(), sheet))
	assert.Equal(t, "r1", sheet.ID)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}
