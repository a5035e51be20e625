package pipeline

import "fmt"

// Stage identifies where in the pipeline an error occurred. Persisted on the
// job row as error_stage.
type Stage string

const (
	StageValidation       Stage = "validation"
	StageCredits          Stage = "credits"
	StageSelectingMedia   Stage = "selecting_media"
	StageBuildingTimeline Stage = "building_timeline"
	StageSubmitting       Stage = "submitting"
	StagePolling          Stage = "polling"
	StageMaterializing    Stage = "materializing"
)

// Kind is the error taxonomy. Persisted on the job row as error_kind and used
// to tell the caller whether a retry is worth attempting.
type Kind string

const (
	KindValidation            Kind = "validation"
	KindProviderUnavailable   Kind = "provider_unavailable"
	KindInsufficientCredits   Kind = "insufficient_credits"
	KindSubmissionRejected    Kind = "submission_rejected"
	KindRenderFailed          Kind = "render_failed"
	KindRenderTimeout         Kind = "render_timeout"
	KindMaterializationFailed Kind = "materialization_failed"
)

// Error is a pipeline failure with enough structure for the state machine to
// persist it and for the API to phrase a user-facing message.
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at %s: %s: %v", e.Kind, e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt could plausibly succeed:
// transient provider trouble rather than bad input.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindProviderUnavailable, KindRenderFailed, KindRenderTimeout, KindMaterializationFailed:
		return true
	}
	return false
}

func newError(kind Kind, stage Stage, message string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, Err: err}
}
