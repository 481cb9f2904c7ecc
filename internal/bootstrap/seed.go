package bootstrap

import (
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/adapter/repo"
	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/shopspring/decimal"
)

// DemoSeed is the catalog the memory storage starts with. It matches the
// dev token clients: customers 1 and 2, store admins of stores 1 and 2.
func DemoSeed(now time.Time) repo.Seed {
	start := now.Add(-24 * time.Hour)
	end := now.AddDate(1, 0, 0)
	rice, eggs := int64(1), int64(2)
	maxOff := int64(15000)

	addr := func(id, customer int64, city string) domain.Address {
		return domain.Address{ID: id, CustomerID: customer, AddressSnapshot: domain.AddressSnapshot{
			Label: "home", Recipient: "customer", Phone: "0800000000",
			AddressLine: "Jl. Demo 1", City: city, Province: "DKI Jakarta", PostalCode: "10110",
		}}
	}

	return repo.Seed{
		Products: []domain.Product{
			{ID: 1, Name: "Rice 5kg", BasePrice: 72000},
			{ID: 2, Name: "Eggs 10pcs", BasePrice: 28500},
			{ID: 3, Name: "Cooking oil 2L", BasePrice: 36000},
		},
		Addresses: []domain.Address{
			addr(1, 1, "Jakarta"),
			addr(2, 2, "Bandung"),
		},
		Discounts: []domain.Discount{
			{Type: domain.DiscountBuy1Get1, StoreID: 1, ProductID: &eggs, StartDate: start, EndDate: end},
			{Type: domain.DiscountPercentage, StoreID: 2, ProductID: &rice, Value: decimal.NewFromInt(10), StartDate: start, EndDate: end},
			{Type: domain.DiscountNominal, Code: "HEMAT10", StoreID: 1, Value: decimal.NewFromInt(10), Unit: domain.NominalPercent,
				StartDate: start, EndDate: end, MinPurchase: 50000, MaxDiscount: &maxOff},
		},
		Stock: []repo.SeedStock{
			{StoreID: 1, ProductID: 1, Quantity: 50},
			{StoreID: 1, ProductID: 2, Quantity: 80},
			{StoreID: 1, ProductID: 3, Quantity: 40},
			{StoreID: 2, ProductID: 1, Quantity: 30},
			{StoreID: 2, ProductID: 3, Quantity: 25},
		},
	}
}
