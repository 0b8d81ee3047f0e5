package coordinator

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	apperrors "genai-relay/internal/errors"
)

// handleFailure is the failure handler (terminal request failure, all
// retries exhausted): account the failure unless it's a non-counting
// user abort, and trigger a rotation switch if the failure threshold or
// an immediate-switch status code says to.
func (co *Coordinator) handleFailure(apiErr *apperrors.APIError) {
	if apiErr != nil && apiErr.IsUserAbort() {
		log.Debug("coordinator: request aborted by client, not counted as a failure")
		return
	}

	immediate := apiErr != nil && co.rotation.IsImmediateSwitchStatus(apiErr.HTTPStatus)
	thresholdHit := co.rotation.RecordFailure()

	if immediate || thresholdHit {
		go func() {
			if err := co.rotation.SwitchToNext(context.Background()); err != nil {
				co.metrics.RotationSwitch("failed")
				log.WithError(err).Error("coordinator: failure-triggered switch failed")
				return
			}
			co.metrics.RotationSwitch("succeeded")
		}()
	}
}

// isAbortSentinel reports whether message names the agent's aborted-fetch
// sentinel, used by retry loops to distinguish a genuine failure from a
// user-initiated cancellation mid-retry.
func isAbortSentinel(message string) bool {
	return strings.Contains(message, apperrors.UserAbortSentinel)
}
