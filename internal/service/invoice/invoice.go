// Package invoice строит клиентское представление заказа.
package invoice

import (
	"time"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

// Customer — краткие данные владельца заказа.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Item — позиция счёта. ProductName пустой, если товар не удалось найти.
type Item struct {
	ID          string       `json:"id"`
	ProductID   string       `json:"productId"`
	ProductName string       `json:"productName,omitempty"`
	Quantity    int          `json:"quantity"`
	UnitPrice   domain.Money `json:"unitPrice"`
	Subtotal    domain.Money `json:"subtotal"`
}

// Invoice — плоская проекция заказа.
type Invoice struct {
	ID        string             `json:"id"`
	OrderDate time.Time          `json:"orderDate"`
	Status    domain.OrderStatus `json:"status"`
	Total     domain.Money       `json:"total"`
	User      *Customer          `json:"user"`
	Items     []Item             `json:"items"`
}

// FromOrder проецирует заказ. products и owner могут быть неполными:
// отсутствующие связи дают пустое имя товара и user=null, но не ошибку.
func FromOrder(order domain.Order, products map[string]domain.Product, owner *domain.User) Invoice {
	inv := Invoice{
		ID:        order.ID,
		OrderDate: order.CreatedAt,
		Status:    order.Status,
		Total:     order.Total,
		Items:     make([]Item, 0, len(order.Lines)),
	}
	if owner != nil {
		inv.User = &Customer{ID: owner.ID, Name: owner.Name, Email: owner.Email}
	}

	for _, line := range order.Lines {
		item := Item{
			ID:        line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
		}
		if p, ok := products[line.ProductID]; ok {
			item.ProductName = p.Name
		}
		inv.Items = append(inv.Items, item)
	}

	return inv
}

// ProductIDs возвращает уникальные id товаров заказов в порядке появления.
func ProductIDs(orders ...domain.Order) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, o := range orders {
		for _, line := range o.Lines {
			if _, ok := seen[line.ProductID]; ok {
				continue
			}
			seen[line.ProductID] = struct{}{}
			ids = append(ids, line.ProductID)
		}
	}
	return ids
}
