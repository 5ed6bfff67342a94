package report

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/exchange/lob/internal/orderbook"
)

var (
	bookHeader     = []string{"ID", "SIDE", "PRICE", "QTY", "TYPE"}
	disposedHeader = []string{"ID", "SIDE", "PRICE", "QUANTITY", "TYPE", "STATUS"}
	tradesHeader   = []string{"TRADE_ID", "ORDER_ID", "SIDE", "PRICE", "QUANTITY", "TIME"}
)

// BookCSV lists bids then asks in priority order. The header is always written.
func BookCSV(snap orderbook.Snapshot, p Pricer) string {
	rows := make([][]string, 0, len(snap.Bids)+len(snap.Asks))
	for _, side := range [][]orderbook.Order{snap.Bids, snap.Asks} {
		for _, o := range side {
			rows = append(rows, []string{
				itoa(o.ID), o.Side.String(), p.Price(o.Price).String(), itoa(o.Quantity), o.Kind.String(),
			})
		}
	}
	return writeCSV(bookHeader, rows)
}

// DisposedCSV lists the archive in removal order; empty when there is nothing.
func DisposedCSV(orders []orderbook.Order, p Pricer) string {
	if len(orders) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, []string{
			itoa(o.ID), o.Side.String(), p.Price(o.Price).String(), itoa(o.Quantity), o.Kind.String(), o.Status.String(),
		})
	}
	return writeCSV(disposedHeader, rows)
}

// TradesCSV lists ledger records; empty when there are none.
func TradesCSV(trades []orderbook.Trade, p Pricer) string {
	if len(trades) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []string{
			itoa(t.TradeID), itoa(t.OrderID), t.Side.String(), p.Price(t.Price).String(), itoa(t.Quantity),
			time.Unix(0, t.Timestamp).UTC().Format(time.RFC3339Nano),
		})
	}
	return writeCSV(tradesHeader, rows)
}

func writeCSV(header []string, rows [][]string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	_ = w.WriteAll(rows) // flushes; writes to a bytes.Buffer cannot fail
	return buf.String()
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
