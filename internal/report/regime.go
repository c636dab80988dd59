package report

import (
	"time"

	"stockbt/internal/domain"
)

// holding is the stretch of trading days from one rebalance up to the next.
type holding struct {
	regime    domain.RegimeLabel
	start     time.Time
	end       time.Time
	days      int
	returnPct float64
}

// RegimeAttribution segments performance by the regime in force at each
// rebalance. A holding period runs from the day after its rebalance through
// the next rebalance day, whose close-to-close return still belongs to the
// outgoing book; the first period also takes its own rebalance day.
// Compounding every period gives the run's total return. Contiguous periods under the same regime merge into
// one RegimePeriod. It returns nil when no rebalance carries a regime.
func RegimeAttribution(daily []domain.DailyRecord, rebalances []domain.RebalanceEvent) ([]domain.RegimePeriod, []domain.RegimeStats) {
	holdings := holdingPeriods(daily, rebalances)
	if len(holdings) == 0 {
		return nil, nil
	}

	var periods []domain.RegimePeriod
	for _, h := range holdings {
		if n := len(periods); n > 0 && periods[n-1].Regime == h.regime {
			p := &periods[n-1]
			p.End = h.end
			p.Holdings++
			p.ReturnPct = compound(p.ReturnPct, h.returnPct)
			continue
		}
		periods = append(periods, domain.RegimePeriod{
			Regime:    h.regime,
			Start:     h.start,
			End:       h.end,
			Holdings:  1,
			ReturnPct: h.returnPct,
		})
	}

	byLabel := make(map[domain.RegimeLabel]*domain.RegimeStats)
	for _, h := range holdings {
		st, ok := byLabel[h.regime]
		if !ok {
			st = &domain.RegimeStats{Regime: h.regime}
			byLabel[h.regime] = st
		}
		st.HoldingPeriods++
		st.TradingDays += h.days
		st.CumulativeReturnPct = compound(st.CumulativeReturnPct, h.returnPct)
		st.AvgPeriodReturnPct += h.returnPct
	}
	var stats []domain.RegimeStats
	for _, label := range domain.RegimeLabels {
		st, ok := byLabel[label]
		if !ok {
			continue
		}
		st.AvgPeriodReturnPct /= float64(st.HoldingPeriods)
		stats = append(stats, *st)
	}
	return periods, stats
}

func holdingPeriods(daily []domain.DailyRecord, rebalances []domain.RebalanceEvent) []holding {
	labelled := false
	for _, ev := range rebalances {
		if ev.Regime != "" {
			labelled = true
			break
		}
	}
	if !labelled || len(daily) == 0 {
		return nil
	}

	var out []holding
	next := 0
	for _, r := range daily {
		rebalanced := false
		var label domain.RegimeLabel
		for next < len(rebalances) && !rebalances[next].Date.After(r.Date) {
			label = rebalances[next].Regime
			rebalanced = true
			next++
		}
		// The first rebalance opens the first holding on its own day. Later
		// rebalance days still mark the outgoing book, so their return
		// closes the current holding and the new one starts the next day.
		if rebalanced && len(out) == 0 {
			out = append(out, holding{regime: label})
			rebalanced = false
		}
		if len(out) > 0 {
			h := &out[len(out)-1]
			if h.days == 0 {
				h.start = r.Date
			}
			h.end = r.Date
			h.days++
			h.returnPct = compound(h.returnPct, r.DailyReturnPct)
		}
		if rebalanced {
			out = append(out, holding{regime: label})
		}
	}

	// A rebalance on the final day opens a holding with no days; drop it.
	kept := out[:0]
	for _, h := range out {
		if h.days > 0 {
			kept = append(kept, h)
		}
	}
	return kept
}

// compound chains two percentage returns.
func compound(a, b float64) float64 {
	return ((1+a/100)*(1+b/100) - 1) * 100
}
