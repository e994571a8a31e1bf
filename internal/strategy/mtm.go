package strategy

import (
	"time"

	"github.com/kunalshah/dalal_straddler/internal/broker"
	"github.com/kunalshah/dalal_straddler/internal/models"
)

// TrackMTM sums the unrealized P&L of broker positions that match a ledger
// leg by token and expiry, appends the total to the ledger's MTM series,
// and returns it. Deliberately not idempotent: every call appends a point.
func TrackMTM(ledger *models.Ledger, positions []broker.Position, expiry string, now time.Time) float64 {
	var total float64
	for _, pos := range positions {
		leg := ledger.LegByToken(pos.Token)
		if leg == nil || leg.Expiry != expiry || pos.Expiry != expiry {
			continue
		}
		total += pos.Unrealised
	}
	ledger.AppendMTM(now, total)
	return total
}
