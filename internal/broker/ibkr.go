package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/ksred/brokerlink-api/internal/types"
)

type ibkrAdapter struct {
	http *resty.Client
}

type ibkrOrderPayload struct {
	Orders []ibkrOrder `json:"orders"`
}

type ibkrOrder struct {
	Symbol      string  `json:"ticker"`
	SecType     string  `json:"secType"`
	Side        string  `json:"side"`
	OrderType   string  `json:"orderType"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price,omitempty"`
	TimeInForce string  `json:"tif"`
}

type ibkrOrderReply struct {
	OrderID string `json:"order_id"`
	Status  string `json:"order_status"`
}

func newIBKRAdapter(gatewayURL string) *ibkrAdapter {
	return &ibkrAdapter{
		http: resty.New().
			SetBaseURL(gatewayURL).
			SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}),
	}
}

// PlaceOrder routes the order through the local gateway, which holds the
// authenticated session; no token accompanies the request.
func (i *ibkrAdapter) PlaceOrder(ctx context.Context, creds *types.Credentials, req *types.OrderRequest) (*types.BrokerOrder, error) {
	order := ibkrOrder{
		Symbol:      req.Symbol,
		SecType:     "STK",
		Side:        strings.ToUpper(req.Action),
		OrderType:   strings.ToUpper(req.OrderType),
		Quantity:    req.Quantity,
		TimeInForce: strings.ToUpper(req.TimeInForce),
	}
	if req.LimitPrice != nil {
		order.Price, _ = req.LimitPrice.Float64()
	}

	var replies []ibkrOrderReply
	resp, err := i.http.R().
		SetContext(ctx).
		SetBody(ibkrOrderPayload{Orders: []ibkrOrder{order}}).
		SetResult(&replies).
		Post(fmt.Sprintf("/v1/api/iserver/account/%s/orders", creds.AccountID))
	if err != nil {
		return nil, mapTransportError(err)
	}

	if resp.StatusCode() == 400 {
		return nil, fmt.Errorf("%w: %s", types.ErrBrokerRejected, resp.String())
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode())
	}
	if len(replies) == 0 {
		return nil, fmt.Errorf("gateway returned no order reply")
	}

	return &types.BrokerOrder{
		BrokerOrderID: replies[0].OrderID,
		Status:        mapIBKRStatus(replies[0].Status),
	}, nil
}

func mapIBKRStatus(status string) types.OrderStatus {
	switch strings.ToLower(status) {
	case "filled":
		return types.OrderStatusFilled
	case "cancelled":
		return types.OrderStatusCancelled
	case "inactive":
		return types.OrderStatusRejected
	default:
		return types.OrderStatusSubmitted
	}
}
