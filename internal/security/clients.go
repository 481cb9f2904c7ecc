package security

import domain "github.com/aq2208/gorder-fulfillment/internal/entity"

// In-memory client registry for the dev token endpoint (replace with DB/config later)
type Client struct {
	ID      string
	Secret  string
	Perms   []string // e.g. {"orders.read","orders.write"}
	Enabled bool

	// identity carried into the token
	Role    domain.Role
	Subject int64
	StoreID int64
}

const (
	PermOrdersRead     = "orders.read"
	PermOrdersWrite    = "orders.write"
	PermOrdersAdmin    = "orders.admin"
	PermStockRead      = "stock.read"
	PermStockWrite     = "stock.write"
	PermDiscountsRead  = "discounts.read"
	PermDiscountsWrite = "discounts.write"
)

var adminPerms = []string{
	PermOrdersRead, PermOrdersWrite, PermOrdersAdmin,
	PermStockRead, PermStockWrite, PermDiscountsRead, PermDiscountsWrite,
}

var Clients = map[string]Client{
	"customer-1": {ID: "customer-1", Secret: "customer-1-secret", Perms: []string{PermOrdersRead, PermOrdersWrite},
		Enabled: true, Role: domain.RoleCustomer, Subject: 1},
	"customer-2": {ID: "customer-2", Secret: "customer-2-secret", Perms: []string{PermOrdersRead, PermOrdersWrite},
		Enabled: true, Role: domain.RoleCustomer, Subject: 2},
	"store-admin-1": {ID: "store-admin-1", Secret: "store-admin-1-secret", Perms: adminPerms,
		Enabled: true, Role: domain.RoleStoreAdmin, Subject: 101, StoreID: 1},
	"store-admin-2": {ID: "store-admin-2", Secret: "store-admin-2-secret", Perms: adminPerms,
		Enabled: true, Role: domain.RoleStoreAdmin, Subject: 102, StoreID: 2},
	"super-admin": {ID: "super-admin", Secret: "super-admin-secret", Perms: adminPerms,
		Enabled: true, Role: domain.RoleSuperAdmin, Subject: 900},
	"svc-warehouse": {ID: "svc-warehouse", Secret: "warehouse-secret", Perms: []string{PermStockRead, PermStockWrite},
		Enabled: true, Role: domain.RoleSystem},
	"svc-analytics": {ID: "svc-analytics", Secret: "ana-secret", Perms: []string{PermOrdersRead, PermStockRead},
		Enabled: false, Role: domain.RoleSystem},
}

// Authenticate returns the enabled client matching id and secret.
func Authenticate(id, secret string) (Client, bool) {
	cl, ok := Clients[id]
	if !ok || !cl.Enabled || secret == "" || secret != cl.Secret {
		return Client{}, false
	}
	return cl, true
}
