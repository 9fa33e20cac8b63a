// Package onboarding holds the status rules of the onboarding workflow:
// which transitions a submission may take, where a signed-in user lands,
// and how review decisions map onto the employee profile.
package onboarding

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type SubmissionStatus string

const (
	StatusNone     SubmissionStatus = ""
	StatusDraft    SubmissionStatus = "draft"
	StatusPending  SubmissionStatus = "pending"
	StatusApproved SubmissionStatus = "approved"
	StatusRejected SubmissionStatus = "rejected"
)

type ProfileStatus string

const (
	ProfilePending           ProfileStatus = "pending"
	ProfileDocumentsUploaded ProfileStatus = "documents_uploaded"
	ProfileVerified          ProfileStatus = "verified"
	ProfileRejected          ProfileStatus = "rejected"
)

type Decision string

const (
	DecisionApprove Decision = "approved"
	DecisionReject  Decision = "rejected"
)

const (
	PathDashboard  = "/dashboard"
	PathOnboarding = "/onboarding"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// ErrReasonRequired is returned when a rejection carries no reason.
var ErrReasonRequired = errors.New("rejection reason is required")

func ParseSubmissionStatus(raw string) (SubmissionStatus, bool) {
	switch s := SubmissionStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected:
		return s, true
	default:
		return StatusNone, false
	}
}

// Editable reports whether the employee may still change their answers.
func Editable(current SubmissionStatus) bool {
	switch current {
	case StatusNone, StatusDraft, StatusRejected:
		return true
	default:
		return false
	}
}

func CanSaveDraft(current SubmissionStatus) error {
	if !Editable(current) {
		return fmt.Errorf("%w: cannot save a draft while submission is %s", ErrInvalidTransition, current)
	}
	return nil
}

func CanSubmit(current SubmissionStatus) error {
	if !Editable(current) {
		return fmt.Errorf("%w: cannot submit while submission is %s", ErrInvalidTransition, current)
	}
	return nil
}

// Review validates an admin decision and returns the resulting submission
// status, profile status and stored rejection reason.
func Review(current SubmissionStatus, decision Decision, reason string) (SubmissionStatus, ProfileStatus, string, error) {
	if current != StatusPending {
		return "", "", "", fmt.Errorf("%w: only pending submissions can be reviewed (status %q)", ErrInvalidTransition, current)
	}
	switch decision {
	case DecisionApprove:
		return StatusApproved, ProfileStatusForDecision(decision), "", nil
	case DecisionReject:
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return "", "", "", ErrReasonRequired
		}
		return StatusRejected, ProfileStatusForDecision(decision), reason, nil
	default:
		return "", "", "", fmt.Errorf("%w: unknown decision %q", ErrInvalidTransition, decision)
	}
}

// ProfileStatusForDecision maps approved to verified; other decisions keep
// their name.
func ProfileStatusForDecision(decision Decision) ProfileStatus {
	if decision == DecisionApprove {
		return ProfileVerified
	}
	return ProfileStatus(decision)
}

// Landing picks the page a signed-in user is sent to.
func Landing(isAdmin bool, status ProfileStatus) string {
	if isAdmin {
		return PathDashboard
	}
	if status == ProfileVerified {
		return PathDashboard
	}
	return PathOnboarding
}

type DocumentType string

const (
	DocAadhaarCard        DocumentType = "aadhaar_card"
	DocPoliceVerification DocumentType = "police_verification"
	DocOfferLetter        DocumentType = "offer_letter"
	DocResume             DocumentType = "resume"
	DocOther              DocumentType = "other"
)

// ClassifyDocument derives a document type from a template title.
func ClassifyDocument(title string) DocumentType {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "aadhaar"):
		return DocAadhaarCard
	case strings.Contains(lower, "police"):
		return DocPoliceVerification
	case strings.Contains(lower, "offer"):
		return DocOfferLetter
	case strings.Contains(lower, "resume"):
		return DocResume
	default:
		return DocOther
	}
}

// StoragePath names an uploaded file as <user>/onboarding_<field>_<millis>.<ext>.
func StoragePath(userID, fieldID, fileName string, now time.Time) string {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/onboarding_%s_%d.%s", userID, fieldID, now.UnixMilli(), ext)
}
