package monitor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/config"
)

// promoteThreshold is the suspicion score at which a contract enters the
// investigation set.
const promoteThreshold = 3

var noBidModality = regexp.MustCompile(`(?i)dispensa|inexigibilidade`)

// ScreenResult carries a contract's suspicion score and the signals that
// produced it.
type ScreenResult struct {
	Score    int      `json:"score"`
	Signals  []string `json:"signals"`
	Promoted bool     `json:"promoted"`
}

// Screen computes the additive suspicion score for one contract. Pure:
// no I/O, no suspension.
func Screen(contract map[string]interface{}, cfg config.MonitorConfig) ScreenResult {
	var res ScreenResult

	if v := contractValue(contract); cfg.ValueThreshold > 0 && v > cfg.ValueThreshold {
		res.Score += 2
		res.Signals = append(res.Signals, "high_value")
	}
	if noBidModality.MatchString(contractModality(contract)) {
		res.Score += 3
		res.Signals = append(res.Signals, "emergency_process")
	}
	if bidders, ok := contractBidders(contract); ok && bidders == 1 {
		res.Score += 2
		res.Signals = append(res.Signals, "single_bidder")
	}
	if supplierWatchlisted(contract, cfg.SupplierWatchlist) {
		res.Score += 2
		res.Signals = append(res.Signals, "watchlisted_supplier")
	}

	res.Promoted = res.Score >= promoteThreshold
	return res
}

// contractValue reads the first present value field.
func contractValue(c map[string]interface{}) float64 {
	for _, key := range []string{"valor", "valorInicial", "valorGlobal"} {
		switch v := c[key].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return 0
}

func contractModality(c map[string]interface{}) string {
	for _, key := range []string{"modalidadeLicitacao", "modalidade"} {
		if s, ok := c[key].(string); ok {
			return s
		}
	}
	return ""
}

func contractBidders(c map[string]interface{}) (int, bool) {
	switch v := c["numeroProponentes"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func supplierWatchlisted(c map[string]interface{}, watchlist []string) bool {
	if len(watchlist) == 0 {
		return false
	}
	var name, cnpj string
	switch f := c["fornecedor"].(type) {
	case map[string]interface{}:
		name, _ = f["nome"].(string)
		cnpj, _ = f["cnpj"].(string)
	case string:
		name = f
	}
	for _, entry := range watchlist {
		if entry == "" {
			continue
		}
		if strings.EqualFold(entry, cnpj) || strings.Contains(strings.ToLower(name), strings.ToLower(entry)) {
			return true
		}
	}
	return false
}

func contractID(c map[string]interface{}) string {
	switch v := c["id"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}
