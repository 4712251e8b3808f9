package service

import (
	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// CheckSeparationOfDuties fails unless approval is an approved decision made
// by someone other than operator.
func CheckSeparationOfDuties(approval *domain.ApprovalRequest, operator *domain.StaffMember) error {
	if approval == nil || approval.Status != domain.ApprovalStatusApproved || approval.ApproverID == nil {
		return ErrApprovalRequired
	}
	if operator == nil {
		return ErrSODViolation
	}
	if *approval.ApproverID == operator.ID {
		return withDetails(ErrSODViolation, map[string]any{
			"approval_id": approval.ID,
			"approver_id": *approval.ApproverID,
			"operator_id": operator.ID,
		})
	}
	return nil
}

// CheckApproverIndependence fails when approver raised the request or is
// assigned to its ticket. It shares the SOD_VIOLATION code.
func CheckApproverIndependence(approval *domain.ApprovalRequest, ticket *domain.Ticket, approver *domain.StaffMember) error {
	if approver == nil {
		return ErrSelfApproval
	}
	details := map[string]any{"approval_id": approval.ID, "approver_id": approver.ID}
	if approval.RequestedBy == approver.ID {
		details["requested_by"] = approval.RequestedBy
		return withDetails(ErrSelfApproval, details)
	}
	if ticket != nil && ticket.AssigneeID != nil && *ticket.AssigneeID == approver.ID {
		details["assignee_id"] = *ticket.AssigneeID
		return withDetails(ErrSelfApproval, details)
	}
	return nil
}
