package broker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/ksred/brokerlink-api/internal/types"
)

type tradierAdapter struct {
	http *resty.Client
}

type tradierOrderResponse struct {
	Order struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

func newTradierAdapter(baseURL string) *tradierAdapter {
	return &tradierAdapter{
		http: resty.New().SetBaseURL(baseURL),
	}
}

// PlaceOrder submits an equity order through Tradier's form-encoded API.
func (t *tradierAdapter) PlaceOrder(ctx context.Context, creds *types.Credentials, req *types.OrderRequest) (*types.BrokerOrder, error) {
	form := map[string]string{
		"class":    "equity",
		"symbol":   req.Symbol,
		"side":     req.Action,
		"quantity": strconv.Itoa(req.Quantity),
		"type":     req.OrderType,
		"duration": req.TimeInForce,
	}
	if req.LimitPrice != nil {
		form["price"] = req.LimitPrice.String()
	}

	var result tradierOrderResponse
	resp, err := t.http.R().
		SetContext(ctx).
		SetAuthToken(creds.AccessToken).
		SetHeader("Accept", "application/json").
		SetFormData(form).
		SetResult(&result).
		Post(fmt.Sprintf("/v1/accounts/%s/orders", creds.AccountID))
	if err != nil {
		return nil, mapTransportError(err)
	}

	if resp.StatusCode() == 400 {
		return nil, fmt.Errorf("%w: %s", types.ErrBrokerRejected, resp.String())
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("tradier returned status %d", resp.StatusCode())
	}

	return &types.BrokerOrder{
		BrokerOrderID: strconv.FormatInt(result.Order.ID, 10),
		Status:        types.OrderStatusSubmitted,
	}, nil
}
