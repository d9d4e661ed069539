package sim

import (
	"time"

	"tradecore/internal/gateway"
	"tradecore/internal/order"
)

// Wire frame types. Every frame is one JSON text message with a "type"
// discriminator; both peers dispatch on it before decoding the body.
const (
	frameSubmit     = "submit"
	frameAck        = "ack"
	frameReject     = "reject"
	frameFill       = "fill"
	frameStatus     = "order_status"
	frameError      = "order_error"
	frameQueryFills = "query_fills"
	frameFills      = "fills"
)

type submitFrame struct {
	Type          string  `json:"type"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Kind          string  `json:"kind"`
	Quantity      float64 `json:"quantity"`
	LimitPrice    float64 `json:"limit_price,omitempty"`
	Account       string  `json:"account,omitempty"`
}

// ackFrame answers a submit; Reason is set on rejects only.
type ackFrame struct {
	Type          string `json:"type"`
	ClientOrderID string `json:"client_order_id"`
	OrderID       string `json:"order_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type fillFrame struct {
	Type          string  `json:"type"`
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	ExecID        string  `json:"exec_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price"`
	Commission    float64 `json:"commission"`
	AtMillis      int64   `json:"at"`
}

// statusFrame carries venue-driven status pushes and order errors.
type statusFrame struct {
	Type          string `json:"type"`
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Reason        string `json:"reason,omitempty"`
	AtMillis      int64  `json:"at"`
}

type queryFillsFrame struct {
	Type       string `json:"type"`
	ReqID      string `json:"req_id"`
	FromMillis int64  `json:"from"`
	ToMillis   int64  `json:"to"`
}

type fillsFrame struct {
	Type  string      `json:"type"`
	ReqID string      `json:"req_id"`
	Fills []fillFrame `json:"fills"`
}

func eventToFrame(ev gateway.Event) any {
	switch ev.Type {
	case gateway.EventFill:
		f := fillFrame{
			Type:          frameFill,
			OrderID:       ev.GatewayOrderID,
			ClientOrderID: ev.ClientOrderID,
			AtMillis:      ev.At.UnixMilli(),
		}
		if ev.Fill != nil {
			f.ExecID = ev.Fill.ExecID
			f.Quantity = ev.Fill.Quantity
			f.Price = ev.Fill.Price
			f.Commission = ev.Fill.Commission
		}
		return f
	case gateway.EventError:
		return statusFrame{
			Type:          frameError,
			OrderID:       ev.GatewayOrderID,
			ClientOrderID: ev.ClientOrderID,
			Reason:        ev.Reason,
			AtMillis:      ev.At.UnixMilli(),
		}
	default:
		return statusFrame{
			Type:          frameStatus,
			OrderID:       ev.GatewayOrderID,
			ClientOrderID: ev.ClientOrderID,
			Status:        string(ev.Status),
			Reason:        ev.Reason,
			AtMillis:      ev.At.UnixMilli(),
		}
	}
}

func fillFrameToEvent(f fillFrame) gateway.Event {
	return gateway.Event{
		Type:           gateway.EventFill,
		GatewayOrderID: f.OrderID,
		ClientOrderID:  f.ClientOrderID,
		Fill: &order.Fill{
			ExecID:     f.ExecID,
			Quantity:   f.Quantity,
			Price:      f.Price,
			Commission: f.Commission,
			At:         time.UnixMilli(f.AtMillis).UTC(),
		},
		At: time.UnixMilli(f.AtMillis).UTC(),
	}
}

func statusFrameToEvent(f statusFrame, typ gateway.EventType) gateway.Event {
	return gateway.Event{
		Type:           typ,
		GatewayOrderID: f.OrderID,
		ClientOrderID:  f.ClientOrderID,
		Status:         order.Status(f.Status),
		Reason:         f.Reason,
		At:             time.UnixMilli(f.AtMillis).UTC(),
	}
}

func venueFillToFrame(f gateway.VenueFill) fillFrame {
	return fillFrame{
		Type:       frameFill,
		OrderID:    f.GatewayOrderID,
		ExecID:     f.ExecID,
		Symbol:     f.Symbol,
		Side:       string(f.Side),
		Quantity:   f.Quantity,
		Price:      f.Price,
		Commission: f.Commission,
		AtMillis:   f.At.UnixMilli(),
	}
}

func frameToVenueFill(f fillFrame) gateway.VenueFill {
	return gateway.VenueFill{
		GatewayOrderID: f.OrderID,
		ExecID:         f.ExecID,
		Symbol:         f.Symbol,
		Side:           order.Side(f.Side),
		Quantity:       f.Quantity,
		Price:          f.Price,
		Commission:     f.Commission,
		At:             time.UnixMilli(f.AtMillis).UTC(),
	}
}
