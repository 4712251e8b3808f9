package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

func TestCheckSeparationOfDuties(t *testing.T) {
	approver := "bob"
	tests := []struct {
		name     string
		approval *domain.ApprovalRequest
		operator *domain.StaffMember
		want     error
	}{
		{"no approval", nil, carol, ErrApprovalRequired},
		{"pending", &domain.ApprovalRequest{Status: domain.ApprovalStatusPending}, carol, ErrApprovalRequired},
		{"rejected", &domain.ApprovalRequest{Status: domain.ApprovalStatusRejected, ApproverID: &approver}, carol, ErrApprovalRequired},
		{"approved without approver", &domain.ApprovalRequest{Status: domain.ApprovalStatusApproved}, carol, ErrApprovalRequired},
		{"approver executes", &domain.ApprovalRequest{Status: domain.ApprovalStatusApproved, ApproverID: &approver}, bob, ErrSODViolation},
		{"different operator", &domain.ApprovalRequest{Status: domain.ApprovalStatusApproved, ApproverID: &approver}, carol, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckSeparationOfDuties(tt.approval, tt.operator)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckApproverIndependence(t *testing.T) {
	assignee := "bob"
	approval := &domain.ApprovalRequest{ID: "ap-1", RequestedBy: "alice"}
	tests := []struct {
		name     string
		ticket   *domain.Ticket
		approver *domain.StaffMember
		wantErr  bool
	}{
		{"requester decides", &domain.Ticket{ID: "t1"}, alice, true},
		{"assignee decides", &domain.Ticket{ID: "t1", AssigneeID: &assignee}, bob, true},
		{"independent approver", &domain.Ticket{ID: "t1"}, bob, false},
		{"no approver", &domain.Ticket{ID: "t1"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckApproverIndependence(approval, tt.ticket, tt.approver)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrSelfApproval)
			assert.ErrorIs(t, err, ErrSODViolation, "shares the SOD_VIOLATION code")
		})
	}
}
