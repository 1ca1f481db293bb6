package core

import (
	"github.com/hallvard/fleet/internal/node"
)

// operation identifies which lifecycle call a node response belongs to, so
// an unexplained refusal maps to the right generic fallback reason.
type operation string

const (
	opCreate          operation = "create"
	opRemove          operation = "remove"
	opStart           operation = "start"
	opStop            operation = "stop"
	opRestart         operation = "restart"
	opAddCollaborator operation = "add_collaborator"
	opRemoveCollab    operation = "remove_collaborator"
	opUpdateRole      operation = "update_role"
	opStatusQuery     operation = "status"
)

func (op operation) fallbackReason() Reason {
	switch op {
	case opCreate:
		return ReasonCreateFailed
	case opRemove:
		return ReasonRemoveFailed
	case opAddCollaborator:
		return ReasonAddFailed
	case opRemoveCollab, opUpdateRole:
		return ReasonUpdateFailed
	default:
		return ReasonNodeError
	}
}

// checkResponse interprets a normalized node response: nil means the node
// explicitly signalled success. Precedence: a node-supplied error_reason
// always wins over a generic classification, even when the call also failed
// at the transport level.
func checkResponse(resp node.Response, op operation) error {
	if resp.TransportError != "" {
		if resp.ErrorReason != "" {
			return &ServiceError{Reason: Reason(resp.ErrorReason), Message: resp.TransportError}
		}
		return Errf(ReasonNodeError, "%s: %s", op, resp.TransportError)
	}

	if resp.ErrorReason != "" && !resp.Ok() {
		return Errf(Reason(resp.ErrorReason), "%s rejected by node", op)
	}

	if resp.SuccessSet && !resp.Success {
		return Errf(op.fallbackReason(), "node refused %s without a reason", op)
	}

	if !resp.SuccessSet {
		return Errf(ReasonUnexpectedResponse, "%s: node response carried no success marker (status %d)", op, resp.StatusCode)
	}

	return nil
}
