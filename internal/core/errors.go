package core

import "fmt"

// Reason is the closed vocabulary of failure codes surfaced to the API
// layer. Every state-changing operation either succeeds or fails with one
// of these; there is no bare false.
type Reason string

const (
	ReasonInvalidToken           Reason = "invalid_token"
	ReasonInsufficientPermission Reason = "insufficient_permission"
	ReasonInvalidPayload         Reason = "invalid_payload"
	ReasonInvalidConfig          Reason = "invalid_config"
	ReasonMachineNotFound        Reason = "machine_not_found"
	ReasonMachineMaintenance     Reason = "machine_maintenance"
	ReasonMachineOffline         Reason = "machine_offline"
	ReasonContainerOffline       Reason = "container_offline"
	ReasonContainerNotFound      Reason = "container_not_found"
	ReasonUserNotFound           Reason = "user_not_found"
	ReasonDuplicateEntry         Reason = "duplicate_entry"
	ReasonNodeError              Reason = "node_error"
	ReasonUnexpectedResponse     Reason = "unexpected_response"
	ReasonCreateFailed           Reason = "create_failed"
	ReasonRemoveFailed           Reason = "remove_failed"
	ReasonAddFailed              Reason = "add_failed"
	ReasonUpdateFailed           Reason = "update_failed"
	ReasonWildContainer          Reason = "wild_container"
)

// ServiceError is a failure with a stable machine-readable reason.
type ServiceError struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return string(e.Reason)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Errf builds a ServiceError with a formatted message.
func Errf(reason Reason, format string, args ...any) *ServiceError {
	return &ServiceError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
