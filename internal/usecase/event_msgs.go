package usecase

import "time"

// Published on the order.events exchange on creation and every transition.
type StatusChangedMsg struct {
	OrderID    string    `json:"orderId"`
	CustomerID int64     `json:"customerId"`
	StoreIDs   []int64   `json:"storeIds"`
	From       string    `json:"from,omitempty"`
	Status     string    `json:"status"`
	Event      string    `json:"event"`
	TotalPrice int64     `json:"totalPrice"`
	At         time.Time `json:"at"`
}

// Consumed from payment.decision.q, produced by the moderation tool.
type PaymentDecisionMsg struct {
	OrderID  string `json:"orderId"`
	Approve  bool   `json:"approve"`
	AdminID  int64  `json:"adminId"`
	StoreID  int64  `json:"storeId,omitempty"` // set when a store admin decided; zero for back office
	Comment  string `json:"comment,omitempty"`
	Decision string `json:"decision,omitempty"` // "APPROVE" | "REJECT", preferred over Approve when set
}

// Consumed from the stock.adjustments Kafka topic, produced by the warehouse.
type StockAdjustedMsg struct {
	StoreID   int64  `json:"storeId"`
	ProductID int64  `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Type      string `json:"type"` // IN | OUT
	Reason    string `json:"reason"`
}
