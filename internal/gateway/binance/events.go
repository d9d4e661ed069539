package binance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradecore/internal/gateway"
	"tradecore/internal/order"
	"tradecore/internal/pkg/convert"
)

// orderUpdateToEvents maps one ORDER_TRADE_UPDATE onto the session
// feed. TRADE executions become fills; the engine derives the filled
// statuses from them, so only venue-driven terminations are forwarded
// as status events.
func orderUpdateToEvents(u futures.WsOrderTradeUpdate) []gateway.Event {
	id := strconv.FormatInt(u.ID, 10)
	at := time.UnixMilli(u.TradeTime).UTC()

	switch u.ExecutionType {
	case futures.OrderExecutionTypeTrade:
		return []gateway.Event{{
			Type:           gateway.EventFill,
			GatewayOrderID: id,
			ClientOrderID:  u.ClientOrderID,
			Fill: &order.Fill{
				ExecID:     strconv.FormatInt(u.TradeID, 10),
				Quantity:   convert.ToFloat64(u.LastFilledQty),
				Price:      convert.ToFloat64(u.LastFilledPrice),
				Commission: convert.ToFloat64(u.Commission),
				At:         at,
			},
			At: at,
		}}
	case futures.OrderExecutionTypeCanceled, futures.OrderExecutionTypeExpired:
		return []gateway.Event{{
			Type:           gateway.EventStatus,
			GatewayOrderID: id,
			ClientOrderID:  u.ClientOrderID,
			Status:         order.StatusCancelled,
			Reason:         strings.ToLower(string(u.ExecutionType)) + " by venue",
			At:             at,
		}}
	}
	if u.Status == futures.OrderStatusTypeRejected {
		return []gateway.Event{{
			Type:           gateway.EventError,
			GatewayOrderID: id,
			ClientOrderID:  u.ClientOrderID,
			Reason:         "order rejected",
			At:             at,
		}}
	}
	return nil
}

func tradeToVenueFill(tr *futures.AccountTrade, internalSymbol string) gateway.VenueFill {
	return gateway.VenueFill{
		GatewayOrderID: strconv.FormatInt(tr.OrderID, 10),
		ExecID:         strconv.FormatInt(tr.ID, 10),
		Symbol:         internalSymbol,
		Side:           sideFromExchange(tr.Side),
		Quantity:       convert.ToFloat64(tr.Quantity),
		Price:          convert.ToFloat64(tr.Price),
		Commission:     convert.ToFloat64(tr.Commission),
		At:             time.UnixMilli(tr.Time).UTC(),
	}
}

func sideToExchange(s order.Side) (futures.SideType, error) {
	switch s {
	case order.SideBuy:
		return futures.SideTypeBuy, nil
	case order.SideSell:
		return futures.SideTypeSell, nil
	default:
		return "", fmt.Errorf("unsupported side %q", s)
	}
}

func kindToExchange(k order.Kind) (futures.OrderType, error) {
	switch k {
	case order.KindMarket:
		return futures.OrderTypeMarket, nil
	case order.KindLimit:
		return futures.OrderTypeLimit, nil
	default:
		return "", fmt.Errorf("unsupported order kind %q", k)
	}
}

func sideFromExchange(s futures.SideType) order.Side {
	if s == futures.SideTypeSell {
		return order.SideSell
	}
	return order.SideBuy
}
