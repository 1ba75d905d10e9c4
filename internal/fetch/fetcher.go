package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ErenYanic/SEC-SemanticSearch/config"
	"github.com/ErenYanic/SEC-SemanticSearch/internal/core"
)

// Filing is a fetched filing: its identity plus the primary document HTML.
type Filing struct {
	ID          core.FilingID
	CompanyName string
	HTML        string
}

// FilingInfo is a preview record without document content.
type FilingInfo struct {
	ID          core.FilingID
	CompanyName string
	Document    string `json:"-"`
}

// Options narrows which filings are selected. Count 0 means all matching.
type Options struct {
	Count     int
	Year      int
	Years     []int
	StartDate time.Time
	EndDate   time.Time
}

// HasDateFilter reports whether any year or date-range filter is set.
func (o Options) HasDateFilter() bool {
	return o.Year != 0 || len(o.Years) > 0 || !o.StartDate.IsZero() || !o.EndDate.IsZero()
}

// Client is the read surface tasks and the CLI consume; tests fake it.
type Client interface {
	ListAvailable(ctx context.Context, ticker, formType string, opts Options) ([]FilingInfo, error)
	Fetch(ctx context.Context, ticker, formType string, opts Options) ([]Filing, error)
	FetchLatest(ctx context.Context, ticker, formType string) (Filing, error)
	FetchOne(ctx context.Context, ticker, formType string, index int, opts Options) (Filing, error)
	FetchByAccession(ctx context.Context, ticker, accession string) (Filing, error)
}

// Fetcher talks to EDGAR with the mandatory identity header and a shared
// rate limiter across all request types.
type Fetcher struct {
	cfg     config.EdgarConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *log.Logger

	mu   sync.Mutex
	ciks map[string]int64
}

func New(cfg config.EdgarConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		logger:  log.New(log.Writer(), "[EDGAR] ", log.LstdFlags),
	}
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, core.Wrap(core.KindFetch, "rate limit wait interrupted", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.Wrap(core.KindFetch, "building request", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent())
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, core.Wrap(core.KindFetch, fmt.Sprintf("requesting %s", url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, core.Ef(core.KindFetch, "unexpected status from EDGAR", "%s returned %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.Wrap(core.KindFetch, "reading response body", err)
	}
	return body, nil
}

// resolveCIK maps a ticker to its SEC central index key. The full ticker
// table is fetched once and cached for the process lifetime.
func (f *Fetcher) resolveCIK(ctx context.Context, ticker string) (int64, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return 0, core.E(core.KindFetch, "ticker is required")
	}

	f.mu.Lock()
	if f.ciks != nil {
		cik, ok := f.ciks[ticker]
		f.mu.Unlock()
		if !ok {
			return 0, core.Ef(core.KindFetch, "unknown ticker", "%s not found in SEC company list", ticker)
		}
		return cik, nil
	}
	f.mu.Unlock()

	body, err := f.get(ctx, f.cfg.TickerURL)
	if err != nil {
		return 0, err
	}
	var table map[string]struct {
		CIK    int64  `json:"cik_str"`
		Ticker string `json:"ticker"`
		Title  string `json:"title"`
	}
	if err := json.Unmarshal(body, &table); err != nil {
		return 0, core.Wrap(core.KindFetch, "decoding company ticker table", err)
	}
	ciks := make(map[string]int64, len(table))
	for _, row := range table {
		ciks[strings.ToUpper(row.Ticker)] = row.CIK
	}

	f.mu.Lock()
	f.ciks = ciks
	cik, ok := f.ciks[ticker]
	f.mu.Unlock()
	if !ok {
		return 0, core.Ef(core.KindFetch, "unknown ticker", "%s not found in SEC company list", ticker)
	}
	return cik, nil
}

type submissionsDoc struct {
	Name    string `json:"name"`
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			FilingDate      []string `json:"filingDate"`
			Form            []string `json:"form"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

func (f *Fetcher) submissions(ctx context.Context, cik int64) (*submissionsDoc, error) {
	url := fmt.Sprintf("%s/submissions/CIK%010d.json", strings.TrimRight(f.cfg.DataBaseURL, "/"), cik)
	body, err := f.get(ctx, url)
	if err != nil {
		return nil, err
	}
	var doc submissionsDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, core.Wrap(core.KindFetch, "decoding submissions index", err)
	}
	return &doc, nil
}

func matchesDate(d time.Time, opts Options) bool {
	if opts.Year != 0 && d.Year() != opts.Year {
		return false
	}
	if len(opts.Years) > 0 {
		found := false
		for _, y := range opts.Years {
			if d.Year() == y {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !opts.StartDate.IsZero() && d.Before(opts.StartDate) {
		return false
	}
	if !opts.EndDate.IsZero() && d.After(opts.EndDate) {
		return false
	}
	return true
}

// listInfos builds the filtered preview list, newest first, bounded by
// opts.Count when it is positive. formType "" matches every supported form.
func (f *Fetcher) listInfos(ctx context.Context, ticker, formType string, opts Options) ([]FilingInfo, int64, error) {
	formType = strings.ToUpper(strings.TrimSpace(formType))
	if formType != "" && !core.IsSupportedForm(formType) {
		return nil, 0, core.Ef(core.KindFetch, "unsupported form type", "%s (supported: %s)", formType, strings.Join(core.SupportedForms, ", "))
	}
	cik, err := f.resolveCIK(ctx, ticker)
	if err != nil {
		return nil, 0, err
	}
	doc, err := f.submissions(ctx, cik)
	if err != nil {
		return nil, 0, err
	}

	recent := doc.Filings.Recent
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	var infos []FilingInfo
	for i := range recent.Form {
		form := strings.ToUpper(recent.Form[i])
		if formType != "" {
			if form != formType {
				continue
			}
		} else if !core.IsSupportedForm(form) {
			continue
		}
		date, err := time.Parse("2006-01-02", recent.FilingDate[i])
		if err != nil {
			continue
		}
		if !matchesDate(date, opts) {
			continue
		}
		infos = append(infos, FilingInfo{
			ID:          core.NewFilingID(ticker, form, date, recent.AccessionNumber[i]),
			CompanyName: doc.Name,
			Document:    recent.PrimaryDocument[i],
		})
	}
	// Sort before bounding: the submissions document's own ordering is
	// not guaranteed, and "top N" means the N newest.
	sort.SliceStable(infos, func(a, b int) bool {
		return infos[a].ID.FilingDate.After(infos[b].ID.FilingDate)
	})
	if opts.Count > 0 && len(infos) > opts.Count {
		infos = infos[:opts.Count]
	}
	return infos, cik, nil
}

// ListAvailable previews matching filings without downloading documents.
func (f *Fetcher) ListAvailable(ctx context.Context, ticker, formType string, opts Options) ([]FilingInfo, error) {
	infos, _, err := f.listInfos(ctx, ticker, formType, opts)
	return infos, err
}

func (f *Fetcher) download(ctx context.Context, cik int64, info FilingInfo) (Filing, error) {
	url := fmt.Sprintf("%s/%d/%s/%s",
		strings.TrimRight(f.cfg.ArchiveURL, "/"),
		cik,
		strings.ReplaceAll(info.ID.AccessionNumber, "-", ""),
		info.Document)
	body, err := f.get(ctx, url)
	if err != nil {
		return Filing{}, err
	}
	f.logger.Printf("fetched %s (%d bytes)", info.ID, len(body))
	return Filing{ID: info.ID, CompanyName: info.CompanyName, HTML: string(body)}, nil
}

// Fetch downloads every matching filing, newest first. The result is a
// materialized bounded slice.
func (f *Fetcher) Fetch(ctx context.Context, ticker, formType string, opts Options) ([]Filing, error) {
	infos, cik, err := f.listInfos(ctx, ticker, formType, opts)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, core.Ef(core.KindFetch, "no matching filings", "%s %s", strings.ToUpper(ticker), formType)
	}
	filings := make([]Filing, 0, len(infos))
	for _, info := range infos {
		filing, err := f.download(ctx, cik, info)
		if err != nil {
			return nil, err
		}
		filings = append(filings, filing)
	}
	return filings, nil
}

// FetchLatest downloads the most recent filing of the given form.
func (f *Fetcher) FetchLatest(ctx context.Context, ticker, formType string) (Filing, error) {
	filings, err := f.Fetch(ctx, ticker, formType, Options{Count: 1})
	if err != nil {
		return Filing{}, err
	}
	return filings[0], nil
}

// FetchOne downloads the filing at the given index (0 = newest) within
// the filtered list.
func (f *Fetcher) FetchOne(ctx context.Context, ticker, formType string, index int, opts Options) (Filing, error) {
	opts.Count = 0
	infos, cik, err := f.listInfos(ctx, ticker, formType, opts)
	if err != nil {
		return Filing{}, err
	}
	if index < 0 || index >= len(infos) {
		return Filing{}, core.Ef(core.KindFetch, "filing index out of range", "index %d, %d available", index, len(infos))
	}
	return f.download(ctx, cik, infos[index])
}

// FetchByAccession downloads a specific filing by accession number,
// searching across all supported forms.
func (f *Fetcher) FetchByAccession(ctx context.Context, ticker, accession string) (Filing, error) {
	infos, cik, err := f.listInfos(ctx, ticker, "", Options{})
	if err != nil {
		return Filing{}, err
	}
	accession = strings.TrimSpace(accession)
	for _, info := range infos {
		if info.ID.AccessionNumber == accession {
			return f.download(ctx, cik, info)
		}
	}
	return Filing{}, core.Ef(core.KindFetch, "accession not found", "%s for %s", accession, strings.ToUpper(ticker))
}
