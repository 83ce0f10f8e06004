package coordinator

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/picknest-core/pkg/db/models"
	"github.com/angelmondragon/picknest-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/picknest-core/pkg/errors"
)

func forbidden(action string) error {
	return pkgerrors.New(pkgerrors.CodeForbidden, "actor may not "+action)
}

// authorizeOrder lets privileged actors through and restricts clients to
// their own orders. Companies never mutate orders.
func authorizeOrder(actor Actor, order *models.Order, action string) error {
	if actor.Role.IsPrivileged() {
		return nil
	}
	if actor.Role == enums.ActorRoleClient && order.ClientID == actor.ID {
		return nil
	}
	return forbidden(action)
}

// authorizeItem lets privileged actors and the owning company through.
func authorizeItem(actor Actor, item *models.Item, action string) error {
	if actor.Role.IsPrivileged() {
		return nil
	}
	if actor.Role == enums.ActorRoleCompany && item.CompanyID == actor.ID {
		return nil
	}
	return forbidden(action)
}

func requirePrivileged(actor Actor, action string) error {
	if actor.Role.IsPrivileged() {
		return nil
	}
	return forbidden(action)
}

// orderOwner resolves the client an order is opened for.
func orderOwner(cmd OpenOrderCommand) (uuid.UUID, error) {
	switch cmd.Actor.Role {
	case enums.ActorRoleClient:
		if cmd.ClientID != uuid.Nil && cmd.ClientID != cmd.Actor.ID {
			return uuid.Nil, forbidden("open orders for another client")
		}
		return cmd.Actor.ID, nil
	case enums.ActorRoleAdmin, enums.ActorRoleSystem:
		if cmd.ClientID == uuid.Nil {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
				WithDetails(map[string]string{"ClientID": "is required"})
		}
		return cmd.ClientID, nil
	}
	return uuid.Nil, forbidden("open orders")
}
