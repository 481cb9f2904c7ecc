package domain

import "time"

type Product struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	BasePrice int64  `json:"basePrice"`
}

type CartItem struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customerId"`
	StoreID    int64     `json:"storeId"`
	ProductID  int64     `json:"productId"`
	Quantity   int       `json:"quantity"`
	AddedAt    time.Time `json:"addedAt"`
}

type Address struct {
	ID         int64 `json:"id"`
	CustomerID int64 `json:"customerId"`
	AddressSnapshot
}

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleStoreAdmin Role = "store_admin"
	RoleSuperAdmin Role = "super_admin"
	RoleSystem     Role = "system"
)

// Actor is whoever invokes an operation. StoreID is set for store admins.
type Actor struct {
	ID      int64
	Role    Role
	StoreID int64
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleStoreAdmin || a.Role == RoleSuperAdmin || a.Role == RoleSystem
}

// System is the actor used by background jobs and message consumers.
var System = Actor{Role: RoleSystem}

// ManagesStore reports whether the actor may administer storeID's stock and
// discounts.
func (a Actor) ManagesStore(storeID int64) bool {
	switch a.Role {
	case RoleSuperAdmin, RoleSystem:
		return true
	case RoleStoreAdmin:
		return a.StoreID == storeID
	}
	return false
}
