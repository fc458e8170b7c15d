package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"bidwise/backend/features/job"
	"bidwise/backend/features/rfp"
	"bidwise/backend/internal/answer"
	"bidwise/backend/internal/worker"
)

type MockQuestionSource struct {
	mock.Mock
}

func (m *MockQuestionSource) GetQuestions(ctx context.Context, rfpID string) ([]rfp.Question, error) {
	args := m.Called(ctx, rfpID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rfp.Question), args.Error(1)
}

func (m *MockQuestionSource) UpdateQuestionAnswer(ctx context.Context, q *rfp.Question) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockQuestionSource) UpdateRFPStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessQuestions(ctx context.Context, questions []answer.Question) []answer.Question {
	args := m.Called(ctx, questions)
	return args.Get(0).([]answer.Question)
}

func batchMessage(t *testing.T, payload worker.AnswerBatchPayload) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return &nsq.Message{Body: body}
}

func TestBatchConsumer_PersistsAnsweredQuestions(t *testing.T) {
	questions := new(MockQuestionSource)
	processor := new(MockProcessor)
	consumer := worker.NewBatchConsumer(questions, processor, new(MockJobRepo))

	questions.On("GetQuestions", mock.Anything, "r1").Return([]rfp.Question{
		{ID: "q1", RFPID: "r1", Position: 0, Text: "What is your SLA?", Status: "pending"},
		{ID: "q2", RFPID: "r1", Position: 1, Text: "Describe DR.", Status: "pending"},
	}, nil)

	processor.On("ProcessQuestions", mock.Anything, mock.MatchedBy(func(in []answer.Question) bool {
		return len(in) == 2 && in[0].ID == "q1" && in[1].ID == "q2"
	})).Return([]answer.Question{
		{ID: "q1", Text: "What is your SLA?", Answer: "99.95%", Sources: []string{"doc:sla#0"}, Status: answer.StatusCompleted},
		{ID: "q2", Text: "Describe DR.", Answer: answer.RetryHintMessage, Sources: []string{}, Status: answer.StatusFailed},
	})

	questions.On("UpdateQuestionAnswer", mock.Anything, mock.MatchedBy(func(q *rfp.Question) bool {
		return q.ID == "q1" && q.Answer == "99.95%" && q.Status == "completed"
	})).Return(nil)
	questions.On("UpdateQuestionAnswer", mock.Anything, mock.MatchedBy(func(q *rfp.Question) bool {
		return q.ID == "q2" && q.Status == "failed"
	})).Return(nil)
	questions.On("UpdateRFPStatus", mock.Anything, "r1", rfp.SheetStatusReady).Return(nil)

	err := consumer.HandleMessage(batchMessage(t, worker.AnswerBatchPayload{RFPID: "r1"}))
	assert.NoError(t, err)
	questions.AssertExpectations(t)
	processor.AssertExpectations(t)
}

func TestBatchConsumer_UntouchedQuestionsNotRewritten(t *testing.T) {
	questions := new(MockQuestionSource)
	processor := new(MockProcessor)
	consumer := worker.NewBatchConsumer(questions, processor, new(MockJobRepo))

	rows := []rfp.Question{
		{ID: "q1", RFPID: "r1", Text: "answered already", Answer: "kept", Status: "completed"},
	}
	questions.On("GetQuestions", mock.Anything, "r1").Return(rows, nil)
	processor.On("ProcessQuestions", mock.Anything, mock.Anything).Return([]answer.Question{
		{ID: "q1", Text: "answered already", Answer: "kept", Status: answer.StatusCompleted},
	})
	questions.On("UpdateRFPStatus", mock.Anything, "r1", rfp.SheetStatusReady).Return(nil)

	err := consumer.HandleMessage(batchMessage(t, worker.AnswerBatchPayload{RFPID: "r1"}))
	assert.NoError(t, err)
	questions.AssertNotCalled(t, "UpdateQuestionAnswer", mock.Anything, mock.Anything)
}

func TestBatchConsumer_PoisonPill(t *testing.T) {
	consumer := worker.NewBatchConsumer(new(MockQuestionSource), new(MockProcessor), new(MockJobRepo))

	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: []byte("garbage")}))
	assert.NoError(t, consumer.HandleMessage(&nsq.Message{Body: []byte(`{"rfp_id":""}`)}))
}

func TestBatchConsumer_LoadFailureRequeuesThenDeadLetters(t *testing.T) {
	questions := new(MockQuestionSource)
	jobs := new(MockJobRepo)
	consumer := worker.NewBatchConsumer(questions, new(MockProcessor), jobs)

	questions.On("GetQuestions", mock.Anything, "r1").Return(nil, errors.New("db down"))

	msg := batchMessage(t, worker.AnswerBatchPayload{RFPID: "r1"})
	msg.Attempts = 1
	assert.Error(t, consumer.HandleMessage(msg))

	jobs.On("Save", mock.Anything, mock.MatchedBy(func(j *job.Job) bool {
		return j.Handler == job.HandlerAnswerWorker
	})).Return(nil)

	msg.Attempts = 3
	assert.NoError(t, consumer.HandleMessage(msg))
	jobs.AssertExpectations(t)
}
