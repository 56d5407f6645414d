package lifecycle

import (
	"context"
	"strings"

	"siraj/internal/docstore"
	"siraj/internal/fanout"
	"siraj/internal/notification"
	dErrors "siraj/pkg/domain-errors"
)

const QuestionsCollection = "questions"

const (
	QuestionOpen     = "open"
	QuestionAnswered = "answered"
)

// Questions records answers to user questions and notifies the asker.
type Questions struct {
	tracker
}

func NewQuestions(store docstore.Store, notifier Notifier, opts ...Option) *Questions {
	return &Questions{tracker: newTracker(store, notifier, opts)}
}

// Answer stores answer on the question and marks it answered. Re-sending the
// stored answer is a no-op; a different answer replaces it and notifies again.
func (q *Questions) Answer(ctx context.Context, questionID, answer string) error {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return dErrors.New(dErrors.CodeBadRequest, "answer is required")
	}
	doc, err := q.load(ctx, QuestionsCollection, "question", questionID)
	if err != nil {
		return err
	}
	if stringField(doc, fieldStatus) == QuestionAnswered && stringField(doc, "answer") == answer {
		return nil
	}
	if err := q.save(ctx, QuestionsCollection, "question", questionID, map[string]any{
		"answer":     answer,
		fieldStatus:  QuestionAnswered,
		"answeredAt": docstore.Timestamp(q.now(ctx)),
	}); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "question answered", "question_id", questionID)
	q.notify(ctx, doc, fanout.StateChangeEvent{
		EntityKind: string(notification.KindQuestion),
		EntityID:   questionID,
		NewState:   QuestionAnswered,
		Title:      "Your question was answered",
		Body:       summarize(stringField(doc, "question"), answer),
	}, true)
	return nil
}

func summarize(question, answer string) string {
	const limit = 140
	if r := []rune(answer); len(r) > limit {
		answer = strings.TrimSpace(string(r[:limit])) + "..."
	}
	if question == "" {
		return answer
	}
	return "Q: " + question + "\nA: " + answer
}
