// Package access решает, может ли вызывающий читать или менять заказ.
// Отказ всегда явный (Forbidden), а не NotFound: заказ к этому моменту уже загружен.
package access

import "github.com/vladislavdragonenkov/inventory/internal/domain"

// CanView: ADMIN видит любой заказ, CLIENT только свой.
func CanView(order domain.Order, caller domain.Principal) bool {
	return caller.IsAdmin() || owns(order, caller)
}

// CanMutate: ADMIN меняет и отменяет любой заказ, CLIENT только свой.
func CanMutate(order domain.Order, caller domain.Principal) bool {
	return caller.IsAdmin() || owns(order, caller)
}

// CanComplete: завершать заказы может только ADMIN.
func CanComplete(caller domain.Principal) bool {
	return caller.IsAdmin()
}

// AuthorizeView возвращает Forbidden, если просмотр запрещён.
func AuthorizeView(order domain.Order, caller domain.Principal) error {
	if !CanView(order, caller) {
		return domain.Forbidden("you do not have permission to view this order")
	}
	return nil
}

// AuthorizeMutate возвращает Forbidden с указанием действия (update, cancel).
func AuthorizeMutate(order domain.Order, caller domain.Principal, action string) error {
	if !CanMutate(order, caller) {
		return domain.Forbidden("you do not have permission to %s this order", action)
	}
	return nil
}

func AuthorizeComplete(caller domain.Principal) error {
	if !CanComplete(caller) {
		return domain.Forbidden("only administrators can complete orders")
	}
	return nil
}

func owns(order domain.Order, caller domain.Principal) bool {
	return caller.UserID != "" && order.OwnerID == caller.UserID
}
