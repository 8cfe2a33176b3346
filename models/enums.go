package models

import (
	"encoding/json"
	"errors"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in-progress"
	JobStatusOnHold     JobStatus = "on-hold"
	JobStatusCompleted  JobStatus = "completed"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{JobStatusPending, JobStatusInProgress, JobStatusOnHold, JobStatusCompleted}

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusOnHold, JobStatusCompleted:
		return true
	}
	return false
}

func (s *JobStatus) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("job status must be string")
	}
	v := JobStatus(str)
	if !v.IsValid() {
		return errors.New("invalid job status")
	}
	*s = v
	return nil
}

type ServiceType string

const (
	ServiceTypeMaintenance ServiceType = "maintenance"
	ServiceTypeRepair      ServiceType = "repair"
	ServiceTypeInspection  ServiceType = "inspection"
	ServiceTypeTireChange  ServiceType = "tire-change"
	ServiceTypeOilChange   ServiceType = "oil-change"
	ServiceTypeDiagnostic  ServiceType = "diagnostic"
	ServiceTypeCustom      ServiceType = "custom"
)

func (t ServiceType) IsValid() bool {
	switch t {
	case ServiceTypeMaintenance, ServiceTypeRepair, ServiceTypeInspection, ServiceTypeTireChange,
		ServiceTypeOilChange, ServiceTypeDiagnostic, ServiceTypeCustom:
		return true
	}
	return false
}

type PhotoKind string

const (
	PhotoKindStart      PhotoKind = "start"
	PhotoKindCompletion PhotoKind = "completion"
)

func (k PhotoKind) IsValid() bool {
	return k == PhotoKindStart || k == PhotoKindCompletion
}

type UserRole string

const (
	UserRoleAdmin    UserRole = "admin"
	UserRoleSupport  UserRole = "support"
	UserRoleMechanic UserRole = "mechanic"
)

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleAdmin, UserRoleSupport, UserRoleMechanic:
		return true
	}
	return false
}

type MembershipStatus string

const (
	MembershipStatusInvited  MembershipStatus = "invited"
	MembershipStatusPending  MembershipStatus = "pending"
	MembershipStatusApproved MembershipStatus = "approved"
	MembershipStatusRejected MembershipStatus = "rejected"
)

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in-progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

func (s TicketStatus) IsValid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

func (p TicketPriority) IsValid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// EventReferenceType is the kind of record an outbox event refers to.
type EventReferenceType string

const (
	EventReferenceJob        EventReferenceType = "Job"
	EventReferenceMembership EventReferenceType = "ShopMembership"
	EventReferenceTicket     EventReferenceType = "Ticket"
	EventReferenceMessage    EventReferenceType = "Message"
)

type EventAction string

const (
	EventActionJobCreated       EventAction = "job.created"
	EventActionJobStatusChanged EventAction = "job.status_changed"
	EventActionJobDeleted       EventAction = "job.deleted"
	EventActionMemberInvited    EventAction = "membership.invited"
	EventActionMemberRequested  EventAction = "membership.requested"
	EventActionMemberApproved   EventAction = "membership.approved"
	EventActionMemberRejected   EventAction = "membership.rejected"
	EventActionTicketAssigned   EventAction = "ticket.assigned"
	EventActionTicketReplied    EventAction = "ticket.replied"
	EventActionTicketStatus     EventAction = "ticket.status_changed"
	EventActionMessageReceived  EventAction = "message.received"
)

// ChangeAction is the kind of write announced on a change channel.
type ChangeAction string

const (
	ChangeActionInsert ChangeAction = "INSERT"
	ChangeActionUpdate ChangeAction = "UPDATE"
	ChangeActionDelete ChangeAction = "DELETE"
)
