package broker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/ksred/brokerlink-api/internal/types"
)

type alpacaAdapter struct {
	http *resty.Client
}

type alpacaOrderRequest struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
}

type alpacaOrderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func newAlpacaAdapter(baseURL string) *alpacaAdapter {
	return &alpacaAdapter{
		http: resty.New().SetBaseURL(baseURL),
	}
}

// PlaceOrder submits the order to Alpaca's REST API. The caller's context
// carries the submission deadline.
func (a *alpacaAdapter) PlaceOrder(ctx context.Context, creds *types.Credentials, req *types.OrderRequest) (*types.BrokerOrder, error) {
	body := alpacaOrderRequest{
		Symbol:      req.Symbol,
		Qty:         strconv.Itoa(req.Quantity),
		Side:        req.Action,
		Type:        req.OrderType,
		TimeInForce: req.TimeInForce,
	}
	if req.LimitPrice != nil {
		body.LimitPrice = req.LimitPrice.String()
	}

	var result alpacaOrderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetBody(body).
		SetResult(&result).
		Post("/v2/orders")
	if err != nil {
		return nil, mapTransportError(err)
	}

	if resp.StatusCode() == 403 || resp.StatusCode() == 422 {
		return nil, fmt.Errorf("%w: %s", types.ErrBrokerRejected, resp.String())
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("alpaca returned status %d", resp.StatusCode())
	}

	return &types.BrokerOrder{
		BrokerOrderID: result.ID,
		Status:        mapAlpacaStatus(result.Status),
	}, nil
}

func mapAlpacaStatus(status string) types.OrderStatus {
	switch status {
	case "filled":
		return types.OrderStatusFilled
	case "canceled":
		return types.OrderStatusCancelled
	case "expired":
		return types.OrderStatusExpired
	case "rejected":
		return types.OrderStatusRejected
	default:
		// new, accepted, pending_new, partially_filled
		return types.OrderStatusSubmitted
	}
}
