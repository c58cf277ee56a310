// Package transparency talks to the external Brazilian open-data
// collaborators: the Portal da Transparência contract API and the
// bidding-waiver (dispensa) source.
package transparency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/config"
	"github.com/anderson-ufrj/cidadao.ai-backend-sub007/internal/logging"
)

// DateFormat is the DD/MM/YYYY layout the portal expects in filters.
const DateFormat = "02/01/2006"

// ContractFilter narrows a contract fetch. Zero fields are omitted from
// the request.
type ContractFilter struct {
	DateFrom time.Time
	DateTo   time.Time
	OrgCode  string
	MinValue float64
	MaxValue float64
	Modality string
	Page     int
	PageSize int
}

// Client fetches contract records from the portal, rate-limited to the
// configured requests per minute.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// NewClient builds a portal client from configuration.
func NewClient(cfg config.TransparencyConfig) *Client {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
		log:        logging.Component("transparency"),
	}
}

// GetContracts fetches one page of contracts matching the filter. A 404
// from the portal means no data and yields an empty slice, not an error.
func (c *Client) GetContracts(ctx context.Context, filter ContractFilter) ([]map[string]interface{}, error) {
	params := url.Values{}
	if !filter.DateFrom.IsZero() {
		params.Set("dataInicial", filter.DateFrom.Format(DateFormat))
	}
	if !filter.DateTo.IsZero() {
		params.Set("dataFinal", filter.DateTo.Format(DateFormat))
	}
	if filter.OrgCode != "" {
		params.Set("codigoOrgao", filter.OrgCode)
	}
	if filter.MinValue > 0 {
		params.Set("valorInicial", strconv.FormatFloat(filter.MinValue, 'f', 2, 64))
	}
	if filter.MaxValue > 0 {
		params.Set("valorFinal", strconv.FormatFloat(filter.MaxValue, 'f', 2, 64))
	}
	if filter.Modality != "" {
		params.Set("modalidade", filter.Modality)
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	params.Set("pagina", strconv.Itoa(page))
	if filter.PageSize > 0 {
		params.Set("tamanhoPagina", strconv.Itoa(filter.PageSize))
	}

	body, err := c.get(ctx, c.baseURL+"/contratos?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var contracts []map[string]interface{}
	if err := json.Unmarshal(body, &contracts); err != nil {
		return nil, fmt.Errorf("failed to decode contracts: %w", err)
	}
	return contracts, nil
}

// RecentContracts fetches contracts from the last 24 hours, paging until
// limit records are gathered. Implements the orchestrator's fetcher.
func (c *Client) RecentContracts(ctx context.Context, limit int) ([]map[string]interface{}, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := ContractFilter{
		DateFrom: time.Now().Add(-24 * time.Hour),
		DateTo:   time.Now(),
		PageSize: 100,
	}

	var out []map[string]interface{}
	for page := 1; len(out) < limit; page++ {
		filter.Page = page
		batch, err := c.GetContracts(ctx, filter)
		if err != nil {
			return out, err
		}
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// get performs a rate-limited request with the portal's status contract:
// 200 data, 404 empty, 429 back off per Retry-After, anything else a
// retryable error up to maxRetries attempts.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if c.apiKey != "" {
			req.Header.Set("chave-api-dados", c.apiKey)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				lastErr = err
				continue
			}
			return body, nil

		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return nil, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp)
			resp.Body.Close()
			c.log.Warn().Dur("wait", wait).Msg("portal rate limit hit, backing off")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			lastErr = fmt.Errorf("rate limited (429)")

		default:
			resp.Body.Close()
			lastErr = fmt.Errorf("portal returned status %d", resp.StatusCode)
		}
	}
	return nil, fmt.Errorf("portal request failed after %d attempts: %w", attempts, lastErr)
}

// retryAfter reads the Retry-After header, defaulting to 5s.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 5 * time.Second
}
