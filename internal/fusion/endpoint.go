package fusion

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/klingon-exchange/xrpfusion/internal/swap"
)

// ActiveOrder is a relayer order as returned by the active orders endpoint.
type ActiveOrder struct {
	OrderHash        string `json:"orderHash"`
	Status           string `json:"status"`
	SrcEscrowAddress string `json:"srcEscrowAddress"`
	DstEscrowAddress string `json:"dstEscrowAddress"`
	ChainFinality    bool   `json:"chainFinality"`
	SecretSubmitted  bool   `json:"secretSubmitted"`
	CreatedAt        int64  `json:"createdAt"`
	UpdatedAt        int64  `json:"updatedAt"`
}

// Remote returns the fields that drive stage mapping.
func (a *ActiveOrder) Remote() swap.RemoteStatus {
	return swap.RemoteStatus{
		Status:           a.Status,
		SrcEscrowAddress: a.SrcEscrowAddress,
		DstEscrowAddress: a.DstEscrowAddress,
		ChainFinality:    a.ChainFinality,
		SecretSubmitted:  a.SecretSubmitted,
	}
}

// LimitOrder is the signed order body submitted to the relayer.
type LimitOrder struct {
	Salt         string `json:"salt"`
	MakerAsset   string `json:"makerAsset"`
	TakerAsset   string `json:"takerAsset"`
	Maker        string `json:"maker"`
	Receiver     string `json:"receiver"`
	MakingAmount string `json:"makingAmount"`
	TakingAmount string `json:"takingAmount"`
	MakerTraits  string `json:"makerTraits"`
}

// SubmitOrderRequest is the relayer submit payload.
type SubmitOrderRequest struct {
	Order        LimitOrder `json:"order"`
	SrcChainID   int64      `json:"srcChainId"`
	Signature    string     `json:"signature"`
	Extension    string     `json:"extension"`
	QuoteID      string     `json:"quoteId"`
	SecretHashes []string   `json:"secretHashes"`
}

// SubmitSecretRequest reveals an order's secret to the relayer.
type SubmitSecretRequest struct {
	Secret    string `json:"secret"`
	OrderHash string `json:"orderHash"`
}

// Endpoint is the off-chain order book. It is polled, never pushed.
type Endpoint interface {
	SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (string, error)
	GetActiveOrders(ctx context.Context) ([]ActiveOrder, error)
	SubmitSecret(ctx context.Context, orderHash string, secret []byte) error
}

// Canceller is implemented by endpoints that can withdraw an order.
type Canceller interface {
	CancelOrder(ctx context.Context, orderHash string) error
}

// FindOrder looks up one order among the active orders.
func FindOrder(ctx context.Context, ep Endpoint, orderHash string) (*ActiveOrder, error) {
	orders, err := ep.GetActiveOrders(ctx)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].OrderHash == orderHash {
			return &orders[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderHash)
}

// RateOracle quotes the market rate used to sanity check orders.
type RateOracle interface {
	CurrentRate(ctx context.Context, dir swap.Direction) (decimal.Decimal, error)
}

// StaticOracle serves fixed rates.
type StaticOracle map[swap.Direction]decimal.Decimal

// NewStaticOracle returns the reference rates: 4000 XRP per ETH.
func NewStaticOracle() StaticOracle {
	return StaticOracle{
		swap.ETHToXRP: decimal.NewFromInt(4000),
		swap.XRPToETH: decimal.RequireFromString("0.00025"),
	}
}

func (o StaticOracle) CurrentRate(_ context.Context, dir swap.Direction) (decimal.Decimal, error) {
	rate, ok := o[dir]
	if !ok {
		return decimal.Zero, fmt.Errorf("no rate for %s", dir)
	}
	return rate, nil
}
