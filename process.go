package imapsn

import (
	"fmt"

	"github.com/opd-ai/imapsn/document"
	"github.com/opd-ai/imapsn/mail"
	"github.com/sirupsen/logrus"
)

// MessageResult is what one inbound message came to.
type MessageResult struct {
	ID      uint64
	Kind    mail.Kind
	Subject string
	Outcome mail.Outcome
	Err     error
}

// ProcessReport summarizes one pass over the inbox.
type ProcessReport struct {
	Results []MessageResult
}

// Count returns how many messages ended with outcome.
func (r *ProcessReport) Count(outcome mail.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Errors returns the errors of every message that was not applied cleanly.
func (r *ProcessReport) Errors() []error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}

// ProcessInbox makes one sequential pass over the protocol messages in the
// inbox, oldest first, restricted to kinds when any are given. A message that
// fails, or panics, is recorded in the report and the pass moves on. Only a
// failure to search the inbox ends the pass early.
func (s *Session) ProcessInbox(kinds ...mail.Kind) (*ProcessReport, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	docs, err := s.options.Inbox.Search(mail.SubjectTag)
	if err != nil {
		return nil, fmt.Errorf("search inbox: %w", err)
	}

	wanted := make(map[mail.Kind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	report := &ProcessReport{}
	for _, doc := range docs {
		kind, ok := mail.KindOf(doc.Subject)
		if !ok || (len(wanted) > 0 && !wanted[kind]) {
			continue
		}
		outcome, err := s.handle(kind, doc)
		report.Results = append(report.Results, MessageResult{
			ID:      doc.ID,
			Kind:    kind,
			Subject: doc.Subject,
			Outcome: outcome,
			Err:     err,
		})
	}

	logrus.WithFields(logrus.Fields{
		"function":  "ProcessInbox",
		"package":   "imapsn",
		"messages":  len(report.Results),
		"applied":   report.Count(mail.OutcomeApplied),
		"discarded": report.Count(mail.OutcomeDiscarded),
		"rejected":  report.Count(mail.OutcomeRejected),
		"failed":    report.Count(mail.OutcomeFailed),
	}).Info("Inbox processed")
	return report, nil
}

// handle routes one message to its handler, converting a panic into a
// failed outcome, and counts the result.
func (s *Session) handle(kind mail.Kind, doc *document.Document) (outcome mail.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return mail.OutcomeFailed, ErrClosed
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = mail.OutcomeFailed
			err = fmt.Errorf("message %d: panic: %v", doc.ID, r)
			logrus.WithFields(logrus.Fields{
				"function": "handle",
				"package":  "imapsn",
				"kind":     kind,
				"message":  doc.ID,
				"panic":    r,
			}).Error("Message handler panicked")
		}
		s.metrics.inbound.WithLabelValues(string(kind), string(outcome)).Inc()
	}()

	switch kind {
	case mail.KindFriendRequest:
		return s.friends.AcceptFriendRequest(doc)
	case mail.KindFriendResponse:
		return s.friends.ProcessFriendResponse(doc)
	case mail.KindNewsItem:
		return s.news.ProcessNewsItem(doc)
	default:
		return mail.OutcomeIgnored, fmt.Errorf("message %d: no handler for %q", doc.ID, kind)
	}
}
