package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/config"
	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ShopMembership links a profile with a shop and captures its role and status.
// Only approved members' jobs are visible in shop-scoped listings.
type ShopMembership struct {
	ID        string           `gorm:"primaryKey;type:char(36)" json:"id"`
	ShopId    string           `gorm:"type:char(36);not null;uniqueIndex:idx_membership_shop_profile,priority:1" json:"shop_id"`
	ProfileId string           `gorm:"type:char(36);not null;uniqueIndex:idx_membership_shop_profile,priority:2;index" json:"profile_id"`
	Role      UserRole         `gorm:"size:20;not null;default:'mechanic'" json:"role"`
	Status    MembershipStatus `gorm:"size:20;not null;index" json:"status"`
	InvitedBy *string          `gorm:"type:char(36)" json:"invited_by"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvitation struct {
	Email string   `json:"email" validate:"required,email"`
	Role  UserRole `json:"role"`
}

func (ShopMembership) CollectionName() string { return "shop_memberships" }
func (m ShopMembership) RecordId() string     { return m.ID }
func (m ShopMembership) RecordShopId() string { return m.ShopId }

var (
	ErrAlreadyMember     = errors.New("profile is already a member of this shop")
	ErrInvalidMembership = errors.New("membership is not in a state that allows this action")
	ErrCannotRemoveOwner = errors.New("the shop owner cannot be removed")
)

func findMembership(ctx context.Context, shopId, profileId string) (*ShopMembership, error) {
	db := config.GetDB()
	var m ShopMembership
	err := db.WithContext(ctx).Where("shop_id = ? AND profile_id = ?", shopId, profileId).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func GetMembership(ctx context.Context, id string) (*ShopMembership, error) {
	db := config.GetDB()
	var m ShopMembership
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &m, nil
}

// IsApprovedMember reports whether profileId may see the shop's jobs.
func IsApprovedMember(ctx context.Context, shopId, profileId string) (bool, error) {
	m, err := findMembership(ctx, shopId, profileId)
	if err != nil || m == nil {
		return false, err
	}
	return m.Status == MembershipStatusApproved, nil
}

// InviteMember invites an existing profile by email.
func InviteMember(ctx context.Context, shopId string, input *NewInvitation) (*ShopMembership, error) {
	shop, err := GetShop(ctx, shopId)
	if err != nil {
		return nil, err
	}
	if err := requireShopManager(ctx, shop); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.InvalidInput("invalid invitation")
	}
	if input.Role == "" {
		input.Role = UserRoleMechanic
	}
	if !input.Role.IsValid() {
		return nil, utils.InvalidInput("invalid role")
	}
	invitee, err := GetProfileByEmail(ctx, input.Email)
	if err != nil {
		return nil, utils.InvalidInput("no profile registered with this email")
	}
	actorId, _ := utils.GetProfileIdFromContext(ctx)

	existing, err := findMembership(ctx, shopId, invitee.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == MembershipStatusApproved {
		return nil, ErrAlreadyMember
	}

	event := DomainEvent{
		ReferenceType: EventReferenceMembership,
		ShopId:        shopId,
		Action:        EventActionMemberInvited,
		ActorId:       actorId,
	}

	if existing != nil {
		fields := map[string]interface{}{
			"status":     MembershipStatusInvited,
			"role":       input.Role,
			"invited_by": &actorId,
		}
		event.ReferenceId = existing.ID
		event.After = membershipPayload(existing.ID, shopId, invitee.ID, MembershipStatusInvited)
		if err := UpdateRecordFields[ShopMembership](ctx, existing.ID, fields, RecordDomainEvents(event)); err != nil {
			return nil, err
		}
		return GetMembership(ctx, existing.ID)
	}

	m := ShopMembership{
		ID:        uuid.NewString(),
		ShopId:    shopId,
		ProfileId: invitee.ID,
		Role:      input.Role,
		Status:    MembershipStatusInvited,
		InvitedBy: &actorId,
	}
	event.ReferenceId = m.ID
	event.After = membershipPayload(m.ID, shopId, invitee.ID, MembershipStatusInvited)
	if err := InsertRecord(ctx, &m, RecordDomainEvents(event)); err != nil {
		return nil, err
	}
	return &m, nil
}

// RequestToJoin creates a pending membership for the caller.
func RequestToJoin(ctx context.Context, shopId string) (*ShopMembership, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	if _, err := GetShop(ctx, shopId); err != nil {
		return nil, err
	}
	existing, err := findMembership(ctx, shopId, profileId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case MembershipStatusApproved:
			return nil, ErrAlreadyMember
		case MembershipStatusPending, MembershipStatusInvited:
			return existing, nil
		}
	}

	event := DomainEvent{
		ReferenceType: EventReferenceMembership,
		ShopId:        shopId,
		Action:        EventActionMemberRequested,
		ActorId:       profileId,
	}
	if existing != nil {
		event.ReferenceId = existing.ID
		event.After = membershipPayload(existing.ID, shopId, profileId, MembershipStatusPending)
		if err := UpdateRecordFields[ShopMembership](ctx, existing.ID,
			map[string]interface{}{"status": MembershipStatusPending}, RecordDomainEvents(event)); err != nil {
			return nil, err
		}
		return GetMembership(ctx, existing.ID)
	}

	m := ShopMembership{
		ID:        uuid.NewString(),
		ShopId:    shopId,
		ProfileId: profileId,
		Role:      UserRoleMechanic,
		Status:    MembershipStatusPending,
	}
	event.ReferenceId = m.ID
	event.After = membershipPayload(m.ID, shopId, profileId, MembershipStatusPending)
	if err := InsertRecord(ctx, &m, RecordDomainEvents(event)); err != nil {
		return nil, err
	}
	return &m, nil
}

// AcceptInvitation lets the invitee accept an invited membership.
func AcceptInvitation(ctx context.Context, id string) (*ShopMembership, error) {
	m, err := GetMembership(ctx, id)
	if err != nil {
		return nil, err
	}
	profileId, _ := utils.GetProfileIdFromContext(ctx)
	if m.ProfileId != profileId {
		return nil, utils.ErrorForbidden
	}
	if m.Status != MembershipStatusInvited {
		return nil, ErrInvalidMembership
	}
	return decideMembership(ctx, m, MembershipStatusApproved, EventActionMemberApproved)
}

// ApproveMembership approves a join request (shop managers only).
func ApproveMembership(ctx context.Context, id string) (*ShopMembership, error) {
	return managerDecision(ctx, id, MembershipStatusApproved, EventActionMemberApproved)
}

// RejectMembership rejects a join request or withdraws an invitation.
func RejectMembership(ctx context.Context, id string) (*ShopMembership, error) {
	return managerDecision(ctx, id, MembershipStatusRejected, EventActionMemberRejected)
}

func managerDecision(ctx context.Context, id string, status MembershipStatus, action EventAction) (*ShopMembership, error) {
	m, err := GetMembership(ctx, id)
	if err != nil {
		return nil, err
	}
	shop, err := GetShop(ctx, m.ShopId)
	if err != nil {
		return nil, err
	}
	if err := requireShopManager(ctx, shop); err != nil {
		return nil, err
	}
	if m.Status != MembershipStatusPending && !(status == MembershipStatusRejected && m.Status == MembershipStatusInvited) {
		return nil, ErrInvalidMembership
	}
	return decideMembership(ctx, m, status, action)
}

func decideMembership(ctx context.Context, m *ShopMembership, status MembershipStatus, action EventAction) (*ShopMembership, error) {
	actorId, _ := utils.GetProfileIdFromContext(ctx)
	event := DomainEvent{
		ReferenceType: EventReferenceMembership,
		ReferenceId:   m.ID,
		ShopId:        m.ShopId,
		Action:        action,
		ActorId:       actorId,
		Before:        membershipPayload(m.ID, m.ShopId, m.ProfileId, m.Status),
		After:         membershipPayload(m.ID, m.ShopId, m.ProfileId, status),
	}
	hooks := []TxHook{
		RecordDomainEvents(event),
		func(tx *gorm.DB) error {
			return createHistory(tx, string(status), m.ID, m.CollectionName(), m.Status, status, "membership "+string(status))
		},
	}
	if status == MembershipStatusApproved {
		shopId := m.ShopId
		hooks = append(hooks, func(tx *gorm.DB) error {
			return setProfileShop(tx, m.ProfileId, &shopId)
		})
	}
	if err := UpdateRecordFields[ShopMembership](ctx, m.ID, map[string]interface{}{"status": status}, hooks...); err != nil {
		return nil, err
	}
	m.Status = status
	return m, nil
}

// RemoveMembership removes a member; members may also remove themselves.
func RemoveMembership(ctx context.Context, id string) (*ShopMembership, error) {
	m, err := GetMembership(ctx, id)
	if err != nil {
		return nil, err
	}
	shop, err := GetShop(ctx, m.ShopId)
	if err != nil {
		return nil, err
	}
	if shop.OwnerId == m.ProfileId {
		return nil, ErrCannotRemoveOwner
	}
	profileId, _ := utils.GetProfileIdFromContext(ctx)
	if m.ProfileId != profileId {
		if err := requireShopManager(ctx, shop); err != nil {
			return nil, err
		}
	}

	err = DeleteRecord[ShopMembership](ctx, m.ID,
		func(tx *gorm.DB) error {
			return createHistory(tx, "DELETE", m.ID, m.CollectionName(), m, nil, "membership removed")
		},
		func(tx *gorm.DB) error {
			// only clear the profile's current shop when it points here
			res := tx.Model(&Profile{}).Where("id = ? AND shop_id = ?", m.ProfileId, m.ShopId).Update("shop_id", nil)
			if res.Error != nil {
				return res.Error
			}
			return utils.RemoveRedisItem[Profile](m.ProfileId)
		})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMembers lists memberships of a shop, optionally by status.
func ListMembers(ctx context.Context, shopId string, status *MembershipStatus) ([]*ShopMembership, error) {
	filter := RecordFilter{"shop_id": shopId}
	if status != nil {
		filter["status"] = *status
	}
	return SelectRecords[ShopMembership](ctx, filter, []Ordering{{Column: "created_at"}}, 0)
}

// ListMyMemberships returns the caller's memberships (invitations included).
func ListMyMemberships(ctx context.Context) ([]*ShopMembership, error) {
	profileId, ok := utils.GetProfileIdFromContext(ctx)
	if !ok {
		return nil, utils.ErrorUnauthorized
	}
	return SelectRecords[ShopMembership](ctx, RecordFilter{"profile_id": profileId}, []Ordering{{Column: "created_at", Desc: true}}, 0)
}

// ShopMemberIds returns the approved member profile ids of a shop.
func ShopMemberIds(ctx context.Context, shopId string) ([]string, error) {
	db := config.GetDB()
	var ids []string
	err := db.WithContext(ctx).Model(&ShopMembership{}).
		Where("shop_id = ? AND status = ?", shopId, MembershipStatusApproved).
		Pluck("profile_id", &ids).Error
	return ids, err
}

type membershipView struct {
	ID        string           `json:"id"`
	ShopId    string           `json:"shop_id"`
	ProfileId string           `json:"profile_id"`
	Status    MembershipStatus `json:"status"`
}

func membershipPayload(id, shopId, profileId string, status MembershipStatus) membershipView {
	return membershipView{ID: id, ShopId: shopId, ProfileId: profileId, Status: status}
}
