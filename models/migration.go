package models

import (
	"bitbucket.org/mmdatafocus/motoshop_backend/config"
)

func MigrateTable() error {
	db := config.GetDB()

	return db.AutoMigrate(
		&Profile{}, &Shop{}, &ShopMembership{},
		&Job{},
		&Notification{}, &Message{},
		&Ticket{}, &TicketReply{},
		&History{},
		&PubSubMessageRecord{},
	)
}
