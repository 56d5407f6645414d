package lifecycle

import (
	"context"
	"fmt"

	"siraj/internal/docstore"
	"siraj/internal/fanout"
	"siraj/internal/notification"
	dErrors "siraj/pkg/domain-errors"
	strs "siraj/pkg/platform/strings"
)

const EnrollmentsCollection = "enrollments"

type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "pending"
	EnrollmentApproved  EnrollmentStatus = "approved"
	EnrollmentRejected  EnrollmentStatus = "rejected"
	EnrollmentCompleted EnrollmentStatus = "completed"
)

var enrollmentMessages = map[EnrollmentStatus]struct {
	title, body string
	email       bool
}{
	EnrollmentPending:   {"Enrollment received", "Your enrollment in %s is awaiting review.", false},
	EnrollmentApproved:  {"Enrollment approved", "You have been accepted into %s.", true},
	EnrollmentRejected:  {"Enrollment not approved", "Your enrollment in %s was not approved.", true},
	EnrollmentCompleted: {"Course completed", "Congratulations on completing %s.", false},
}

// Enrollments updates course enrollment status and notifies the student.
type Enrollments struct {
	tracker
}

func NewEnrollments(store docstore.Store, notifier Notifier, opts ...Option) *Enrollments {
	return &Enrollments{tracker: newTracker(store, notifier, opts)}
}

func (e *Enrollments) UpdateStatus(ctx context.Context, enrollmentID string, status EnrollmentStatus) error {
	msg, ok := enrollmentMessages[status]
	if !ok {
		return dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid enrollment status %q", status))
	}
	doc, err := e.load(ctx, EnrollmentsCollection, "enrollment", enrollmentID)
	if err != nil {
		return err
	}
	if EnrollmentStatus(stringField(doc, fieldStatus)) == status {
		return nil
	}
	if err := e.save(ctx, EnrollmentsCollection, "enrollment", enrollmentID, map[string]any{fieldStatus: string(status)}); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "enrollment status updated",
		"enrollment_id", enrollmentID,
		"status", status,
	)
	course := strs.FirstNonEmpty(stringField(doc, "courseName"), "the course")
	e.notify(ctx, doc, fanout.StateChangeEvent{
		EntityKind: string(notification.KindEnrollment),
		EntityID:   enrollmentID,
		NewState:   string(status),
		Title:      msg.title,
		Body:       fmt.Sprintf(msg.body, course),
	}, msg.email)
	return nil
}
