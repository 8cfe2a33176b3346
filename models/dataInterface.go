package models

import (
	"time"

	"bitbucket.org/mmdatafocus/motoshop_backend/utils"
)

type Identifier interface {
	GetId() string
}

// interface for dataloader result
type Data interface {
	Identifier
	GetDefault(string) Data
}

func (p Profile) GetId() string {
	return p.ID
}

// placeholder for ids that no longer resolve, e.g. a deleted author
func (p Profile) GetDefault(id string) Data {
	return Profile{
		ID:        id,
		Name:      "Unknown user",
		Role:      UserRoleMechanic,
		IsActive:  utils.NewFalse(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (s Shop) GetId() string {
	return s.ID
}

func (s Shop) GetDefault(id string) Data {
	return Shop{
		ID:        id,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}
