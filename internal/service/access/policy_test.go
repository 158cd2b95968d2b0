package access

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/inventory/internal/domain"
)

func TestPolicy(t *testing.T) {
	t.Parallel()

	order := domain.Order{ID: "order-1", OwnerID: "user-x"}
	admin := domain.Principal{UserID: "admin-1", Role: domain.RoleAdmin}
	owner := domain.Principal{UserID: "user-x", Role: domain.RoleClient}
	stranger := domain.Principal{UserID: "user-y", Role: domain.RoleClient}

	tests := []struct {
		name        string
		caller      domain.Principal
		canView     bool
		canMutate   bool
		canComplete bool
	}{
		{name: "admin", caller: admin, canView: true, canMutate: true, canComplete: true},
		{name: "owner", caller: owner, canView: true, canMutate: true},
		{name: "stranger", caller: stranger},
		{name: "anonymous client", caller: domain.Principal{Role: domain.RoleClient}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanView(order, tt.caller); got != tt.canView {
				t.Fatalf("CanView = %v, want %v", got, tt.canView)
			}
			if got := CanMutate(order, tt.caller); got != tt.canMutate {
				t.Fatalf("CanMutate = %v, want %v", got, tt.canMutate)
			}
			if got := CanComplete(tt.caller); got != tt.canComplete {
				t.Fatalf("CanComplete = %v, want %v", got, tt.canComplete)
			}
		})
	}
}

func TestAuthorize_ReturnsForbidden(t *testing.T) {
	t.Parallel()

	order := domain.Order{ID: "order-1", OwnerID: "user-x"}
	stranger := domain.Principal{UserID: "user-y", Role: domain.RoleClient}

	if err := AuthorizeView(order, stranger); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden on view, got %v", err)
	}
	err := AuthorizeMutate(order, stranger, "cancel")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden on cancel, got %v", err)
	}
	if err.Error() != "you do not have permission to cancel this order" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := AuthorizeComplete(domain.Principal{UserID: "user-x", Role: domain.RoleClient}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden on complete, got %v", err)
	}
	if err := AuthorizeMutate(order, domain.Principal{UserID: "user-x", Role: domain.RoleClient}, "update"); err != nil {
		t.Fatalf("owner must be allowed: %v", err)
	}
}
