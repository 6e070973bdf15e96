package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/fintra/fxengine/provider/currencies"
	"github.com/fintra/fxengine/storage/types"
)

var BCVSource types.Source = "BCV"

const DefaultBCVURL = "https://www.bcv.org.ve/"

var errInvalidRate = errors.New("invalid rate")

// bcvSectionIDs maps the hardcoded BCV website section IDs to currencies
var bcvSectionIDs = map[string]types.Currency{
	"dolar": currencies.USD,
	"euro":  currencies.EUR,
	"yuan":  currencies.CNY,
	"lira":  currencies.TRY,
	"rublo": currencies.RUB,
}

// BCV scrapes the official central bank rates. Each scraped figure is
// VES per one unit of the listed currency. Results are cached for a day,
// the site publishes one rate per business day
type BCV struct {
	client *http.Client
	logger *slog.Logger
	url    string

	mu        sync.RWMutex
	vesRates  map[types.Currency]float64
	asOf      time.Time
	fetchedAt time.Time
}

type BCVOption func(p *BCV)

// WithBCVLogger specifies the logger for the BCV scraper
func WithBCVLogger(l *slog.Logger) BCVOption {
	return func(p *BCV) {
		p.logger = l
	}
}

// NewBCV creates a new BCV website scraping provider
func NewBCV(url string, timeout time.Duration, opts ...BCVOption) *BCV {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // Fine to ignore
	}

	p := &BCV{
		client: &http.Client{
			Timeout:   timeout,
			Transport: tr,
		},
		logger: noopLogger,
		url:    url,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *BCV) Name() string {
	return BCVSource.String()
}

// Interval is the refresh period when registered for ingestion
func (p *BCV) Interval() time.Duration {
	return time.Hour * 24 // the rate is updated daily
}

func (p *BCV) IsAvailable(ctx context.Context) bool {
	if p.cachedVESRates() != nil {
		return true
	}

	_, _, err := p.scrape(ctx)

	return err == nil
}

func (p *BCV) GetRate(ctx context.Context, base, quote types.Currency) (float64, error) {
	rates, err := p.vesPivotRates(ctx)
	if err != nil {
		return 0, err
	}

	baseVES, ok := rates[base]
	if !ok {
		return 0, ErrUnsupportedPair
	}

	quoteVES, ok := rates[quote]
	if !ok {
		return 0, ErrUnsupportedPair
	}

	// Cross rate through VES
	return baseVES / quoteVES, nil
}

func (p *BCV) GetRates(ctx context.Context, base types.Currency, quotes []types.Currency) (map[types.Currency]float64, error) {
	out := make(map[types.Currency]float64, len(quotes))

	for _, quote := range quotes {
		rate, err := p.GetRate(ctx, base, quote)
		if err != nil {
			return nil, err
		}

		out[quote] = rate
	}

	return out, nil
}

func (p *BCV) SupportedCurrencies() []types.Currency {
	return []types.Currency{
		currencies.USD,
		currencies.EUR,
		currencies.CNY,
		currencies.TRY,
		currencies.RUB,
		currencies.VES,
	}
}

// Fetch yields the official MID rates as storable data points
func (p *BCV) Fetch(ctx context.Context) ([]*types.ExchangeRate, error) {
	rates, asOf, err := p.scrape(ctx)
	if err != nil {
		return nil, err
	}

	fetchTime := time.Now().UTC()

	out := make([]*types.ExchangeRate, 0, len(rates))

	for currency, rate := range rates {
		if currency == currencies.VES {
			continue
		}

		out = append(out, &types.ExchangeRate{
			AsOf:      asOf,
			FetchedAt: fetchTime,
			Base:      currency,
			Target:    currencies.VES,
			RateType:  types.RateTypeMID,
			Source:    BCVSource,
			Rate:      rate,
		})
	}

	return out, nil
}

// vesPivotRates returns the cached VES-relative table, scraping when stale
func (p *BCV) vesPivotRates(ctx context.Context) (map[types.Currency]float64, error) {
	if rates := p.cachedVESRates(); rates != nil {
		return rates, nil
	}

	rates, _, err := p.scrape(ctx)

	return rates, err
}

func (p *BCV) cachedVESRates() map[types.Currency]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.vesRates == nil || time.Since(p.fetchedAt) >= p.Interval() {
		return nil
	}

	return p.vesRates
}

// scrape fetches the BCV page and parses the published rates
func (p *BCV) scrape(ctx context.Context) (map[types.Currency]float64, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("unable to create new GET request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("unable to execute GET request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, time.Time{}, fmt.Errorf("invalid status code received: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("unable to construct query doc: %w", err)
	}

	effectiveDate := time.Now().UTC()
	if parsed := parseEffectiveDate(doc); parsed != nil {
		effectiveDate = *parsed
	}

	rates := map[types.Currency]float64{
		currencies.VES: 1,
	}

	for id, currency := range bcvSectionIDs {
		rate, err := scrapeSectionRate(doc, id)
		if err != nil {
			p.logger.Debug(
				"unable to scrape section rate",
				"section", id,
				"err", err,
			)

			continue
		}

		rates[currency] = rate
	}

	if len(rates) < 2 {
		return nil, time.Time{}, fmt.Errorf("no rates parsed from page")
	}

	p.mu.Lock()
	p.vesRates = rates
	p.asOf = effectiveDate
	p.fetchedAt = time.Now()
	p.mu.Unlock()

	return rates, effectiveDate, nil
}

// scrapeSectionRate pulls a single currency rate out of its page section
func scrapeSectionRate(doc *goquery.Document, sectionID string) (float64, error) {
	sel := doc.Find("#" + sectionID)

	if sel.Length() == 0 {
		return 0, fmt.Errorf("missing element #%s", sectionID)
	}

	txt := sel.Find(".col-sm-6.col-xs-6.centrado").First().Text()
	if strings.TrimSpace(txt) == "" {
		txt = sel.Find(".centrado").First().Text()
	}

	v, err := parseBCVNumber(strings.TrimSpace(txt))
	if err != nil {
		return 0, fmt.Errorf("unable to parse rate value for %s: %w", sectionID, err)
	}

	return math.Round(v*1e4) / 1e4, nil
}

// parseBCVNumber parses the rate number from the BCV website
func parseBCVNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errInvalidRate
	}

	// BCV typically uses comma as decimal separator and no thousands:
	// "1.234,56" -> "1234.56"
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("unable to parse rate %q: %w", s, err)
	}

	return f, nil
}

// parseEffectiveDate parses the "Fecha Valor" date on the BCV website
func parseEffectiveDate(doc *goquery.Document) *time.Time {
	// Best source: the machine-readable datetime
	sel := doc.Find(`span.date-display-single[property="dc:date"]`).First()
	if sel.Length() == 0 {
		sel = doc.Find("span.date-display-single").First()
	}

	if sel.Length() == 0 {
		return nil
	}

	if content, ok := sel.Attr("content"); ok && strings.TrimSpace(content) != "" {
		// Example: "2026-01-13T00:00:00-04:00"
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(content)); err == nil {
			u := t.UTC()

			return &u
		}
	}

	// Fallback: parse the rendered Spanish text
	txt := strings.TrimSpace(sel.Text())
	if txt == "" {
		return nil
	}

	t, err := parseSpanishDate(txt)
	if err != nil {
		return nil
	}

	u := t.UTC()

	return &u
}

// parseSpanishDate parses the rendered effective date, e.g. "Martes, 13 Enero 2026".
// Day-of-week is ignored if present
func parseSpanishDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ","); i != -1 {
		s = strings.TrimSpace(s[i+1:])
	}

	parts := strings.Fields(s)
	if len(parts) < 3 {
		return time.Time{}, fmt.Errorf("date format is invalid %q", s)
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, err
	}

	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("unable to parse effective date year: %w", err)
	}

	months := map[string]time.Month{
		"enero":      time.January,
		"febrero":    time.February,
		"marzo":      time.March,
		"abril":      time.April,
		"mayo":       time.May,
		"junio":      time.June,
		"julio":      time.July,
		"agosto":     time.August,
		"septiembre": time.September,
		"setiembre":  time.September,
		"octubre":    time.October,
		"noviembre":  time.November,
		"diciembre":  time.December,
	}

	mo, ok := months[strings.ToLower(parts[1])]
	if !ok {
		return time.Time{}, fmt.Errorf("month is invalid %q", parts[1])
	}

	return time.Date(year, mo, day, 0, 0, 0, 0, time.UTC), nil
}
