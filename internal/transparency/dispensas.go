package transparency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/config"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
)

// Dispensa is a normalised bidding-waiver record from the external source.
type Dispensa struct {
	ID            string                 `json:"id"`
	Numero        string                 `json:"numero"`
	Objeto        string                 `json:"objeto"`
	Valor         float64                `json:"valor"`
	Fornecedor    DispensaParty          `json:"fornecedor"`
	Orgao         DispensaOrg            `json:"orgao"`
	Data          string                 `json:"data"`
	Justificativa string                 `json:"justificativa"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// DispensaParty identifies the awarded supplier.
type DispensaParty struct {
	Nome string `json:"nome"`
	CNPJ string `json:"cnpj"`
}

// DispensaOrg identifies the contracting organisation.
type DispensaOrg struct {
	Nome   string `json:"nome"`
	Codigo string `json:"codigo"`
}

// DispensaSource fetches bidding-waiver records from the external API,
// authenticated with a static bearer token.
type DispensaSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewDispensaSource builds the source from configuration.
func NewDispensaSource(cfg config.DispensaConfig) *DispensaSource {
	return &DispensaSource{
		baseURL:    cfg.BaseURL,
		token:      cfg.BearerToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logging.Component("dispensas"),
	}
}

// Configured reports whether the source has a base URL to talk to.
func (d *DispensaSource) Configured() bool {
	return d.baseURL != ""
}

// ListAll fetches every available dispensa, normalised.
func (d *DispensaSource) ListAll(ctx context.Context) ([]Dispensa, error) {
	body, err := d.get(ctx, d.baseURL+"/dispensas")
	if err != nil {
		return nil, err
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode dispensas: %w", err)
	}

	out := make([]Dispensa, 0, len(raw))
	for _, item := range raw {
		out = append(out, normaliseDispensa(item))
	}
	return out, nil
}

// GetByID fetches one dispensa, or nil when the source has no such record.
func (d *DispensaSource) GetByID(ctx context.Context, id string) (*Dispensa, error) {
	body, err := d.get(ctx, d.baseURL+"/dispensas/"+id)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode dispensa: %w", err)
	}
	dispensa := normaliseDispensa(raw)
	return &dispensa, nil
}

// Health probes the source and reports reachability.
func (d *DispensaSource) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	d.authorize(req)
	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.log.Warn().Err(err).Msg("dispensa source health check failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// AsContract projects a dispensa into the opaque contract shape the
// pre-screen and agents consume. Dispensas have no bidding, so the
// modality is fixed and the bidder count is one.
func (d Dispensa) AsContract() map[string]interface{} {
	return map[string]interface{}{
		"id":                  d.ID,
		"numero":              d.Numero,
		"objeto":              d.Objeto,
		"valor":               d.Valor,
		"modalidadeLicitacao": "Dispensa",
		"numeroProponentes":   1,
		"fornecedor":          map[string]interface{}{"nome": d.Fornecedor.Nome, "cnpj": d.Fornecedor.CNPJ},
		"orgao":               map[string]interface{}{"nome": d.Orgao.Nome, "codigo": d.Orgao.Codigo},
		"data":                d.Data,
		"justificativa":       d.Justificativa,
		"metadata":            d.Metadata,
	}
}

func (d *DispensaSource) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	d.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispensa source returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (d *DispensaSource) authorize(req *http.Request) {
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
}

// normaliseDispensa maps a raw source record onto the canonical shape,
// tolerating the source's field-name drift.
func normaliseDispensa(raw map[string]interface{}) Dispensa {
	d := Dispensa{
		ID:            str(raw, "id", "dispensa_id"),
		Numero:        str(raw, "numero", "numero_dispensa"),
		Objeto:        str(raw, "objeto", "descricao"),
		Valor:         num(raw, "valor", "valor_total", "valorGlobal"),
		Data:          str(raw, "data", "data_publicacao"),
		Justificativa: str(raw, "justificativa", "motivo"),
		Metadata: map[string]interface{}{
			"source":        "dispensas_api",
			"fetched_at":    time.Now().Format(time.RFC3339),
			"original_data": raw,
		},
	}
	if f, ok := raw["fornecedor"].(map[string]interface{}); ok {
		d.Fornecedor = DispensaParty{Nome: str(f, "nome", "razao_social"), CNPJ: str(f, "cnpj")}
	} else {
		d.Fornecedor = DispensaParty{Nome: str(raw, "fornecedor_nome"), CNPJ: str(raw, "fornecedor_cnpj")}
	}
	if o, ok := raw["orgao"].(map[string]interface{}); ok {
		d.Orgao = DispensaOrg{Nome: str(o, "nome"), Codigo: str(o, "codigo")}
	} else {
		d.Orgao = DispensaOrg{Nome: str(raw, "orgao_nome"), Codigo: str(raw, "orgao_codigo")}
	}
	return d
}

func str(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func num(m map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case string:
			var f float64
			if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
				return f
			}
		}
	}
	return 0
}
