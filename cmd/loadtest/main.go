package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vladislavdragonenkov/inventory/internal/version"
)

const idempotencyHeader = "Idempotency-Key"

type loadMode string

const (
	modeCreate         loadMode = "create"
	modeCreateCancel   loadMode = "create-cancel"
	modeCreateComplete loadMode = "create-complete"
)

type config struct {
	addr          string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	timeout       time.Duration
	mode          loadMode
	adminEmail    string
	clientEmail   string
	password      string
	stock         int
	quantity      int
	price         string
	idempotent    bool
	outputPath    string
	requireStable bool
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Rejected  int64            `json:"rejected"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockReport сверяет остаток товара с числом удержанных позиций.
type stockReport struct {
	Initial    int  `json:"initial"`
	Reserved   int  `json:"reserved"`
	Expected   int  `json:"expected"`
	Actual     int  `json:"actual"`
	Consistent bool `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	RejectedScenarios int64                   `json:"rejected_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             stockReport             `json:"stock"`
}

// outcome: исход одного вызова. rejected: сервис корректно отказал из-за остатка.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRejected
	outcomeFailed
)

func classify(status int, err error) outcome {
	switch {
	case err != nil:
		return outcomeFailed
	case status >= 200 && status < 300:
		return outcomeSuccess
	case status == http.StatusBadRequest || status == http.StatusConflict:
		return outcomeRejected
	default:
		return outcomeFailed
	}
}

func codeLabel(status int, err error) string {
	if err != nil {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

type methodStats struct {
	calls     int64
	success   int64
	rejected  int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, result outcome, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	switch result {
	case outcomeSuccess:
		stats.success++
	case outcomeRejected:
		stats.rejected++
	default:
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Rejected:  s.rejected,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenario := c.methods["scenario"]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.RejectedScenarios = scenario.rejected
		result.FailedScenarios = scenario.failed
		result.ErrorRate = ratio(scenario.failed, scenario.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenario.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}
	return result
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg config
	var modeValue string

	fs.StringVar(&cfg.addr, "addr", "http://localhost:8080", "inventory-service base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-cancel | create-complete")
	fs.StringVar(&cfg.adminEmail, "admin-email", "admin@inventory.com", "admin account used to create the load product")
	fs.StringVar(&cfg.clientEmail, "client-email", "cliente@inventory.com", "client account that places orders")
	fs.StringVar(&cfg.password, "password", "admin123", "password for both accounts")
	fs.IntVar(&cfg.stock, "stock", 100, "initial stock of the load product")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per order")
	fs.StringVar(&cfg.price, "price", "9.99", "unit price of the load product")
	fs.BoolVar(&cfg.idempotent, "idempotent", true, "send an Idempotency-Key with every order")
	fs.BoolVar(&cfg.requireStable, "require-consistent-stock", true, "exit non-zero when the final stock does not match")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.stock < 0 {
		return cfg, errors.New("stock must be >= 0")
	}
	if cfg.quantity <= 0 {
		return cfg, errors.New("quantity must be > 0")
	}
	if strings.TrimSpace(cfg.addr) == "" {
		return cfg, errors.New("addr is required")
	}
	if strings.TrimSpace(cfg.adminEmail) == "" || strings.TrimSpace(cfg.clientEmail) == "" {
		return cfg, errors.New("admin-email and client-email are required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	case modeCreateComplete:
		return modeCreateComplete, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type session struct {
	Token string `json:"token"`
}

type product struct {
	ID    string `json:"id"`
	Stock int    `json:"stock"`
}

type order struct {
	ID string `json:"id"`
}

// api: тонкая обёртка над resty с токенами обеих ролей.
type api struct {
	http        *resty.Client
	adminToken  string
	clientToken string
	timeout     time.Duration
}

func newAPI(cfg config) *api {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.addr, "/")).
		SetTimeout(cfg.timeout).
		SetHeader("User-Agent", version.Current().UserAgent()+" loadtest")
	return &api{http: client, timeout: cfg.timeout}
}

func (a *api) login(ctx context.Context, email, password string) (string, error) {
	var out envelope[session]
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&out).
		Post("/api/auth/login")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("login %s: %s", email, resp.Status())
	}
	return out.Data.Token, nil
}

func (a *api) createProduct(ctx context.Context, cfg config, runID string) (product, error) {
	var out envelope[product]
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(a.adminToken).
		SetBody(map[string]any{
			"name":        "Load test " + runID,
			"price":       json.Number(cfg.price),
			"stock":       cfg.stock,
			"description": "created by cmd/loadtest",
		}).
		SetResult(&out).
		Post("/api/products")
	if err != nil {
		return product{}, err
	}
	if resp.IsError() {
		return product{}, fmt.Errorf("create product: %s: %s", resp.Status(), resp.String())
	}
	return out.Data, nil
}

func (a *api) getProduct(ctx context.Context, id string) (product, error) {
	var out envelope[product]
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(a.adminToken).
		SetResult(&out).
		Get("/api/products/" + id)
	if err != nil {
		return product{}, err
	}
	if resp.IsError() {
		return product{}, fmt.Errorf("get product: %s", resp.Status())
	}
	return out.Data, nil
}

func (a *api) call(col *collector, method string, fn func(ctx context.Context) (*resty.Response, error)) (*resty.Response, outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := fn(ctx)
	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}
	result := classify(status, err)
	col.record(method, time.Since(start), result, codeLabel(status, err))
	return resp, result
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || (cfg.requireStable && !result.Stock.Consistent) {
		os.Exit(1)
	}
}

// run создаёт товар с заданным остатком и конкурентно оформляет заказы на него.
// В конце сверяет остаток с числом успешно удержанных позиций.
func run(ctx context.Context, cfg config) (report, error) {
	client := newAPI(cfg)

	var err error
	if client.adminToken, err = client.login(ctx, cfg.adminEmail, cfg.password); err != nil {
		return report{}, err
	}
	if client.clientToken, err = client.login(ctx, cfg.clientEmail, cfg.password); err != nil {
		return report{}, err
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	target, err := client.createProduct(ctx, cfg, runID)
	if err != nil {
		return report{}, err
	}

	col := newCollector()
	jobs := make(chan int, cfg.concurrency*2)
	var held int64
	var wg sync.WaitGroup

	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runScenario(client, cfg, target.ID, id, runID, col) {
					atomic.AddInt64(&held, int64(cfg.quantity))
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))

	final, err := client.getProduct(ctx, target.ID)
	if err != nil {
		return result, err
	}
	result.Stock = stockReport{
		Initial:  cfg.stock,
		Reserved: int(held),
		Expected: cfg.stock - int(held),
		Actual:   final.Stock,
	}
	result.Stock.Consistent = result.Stock.Expected == result.Stock.Actual && result.Stock.Actual >= 0
	return result, nil
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario возвращает true, если после сценария заказ продолжает удерживать остаток.
func runScenario(client *api, cfg config, productID string, index int, runID string, col *collector) bool {
	scenarioStart := time.Now()
	scenarioResult := outcomeSuccess
	scenarioCode := "ok"
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioResult, scenarioCode)
	}()

	var created envelope[order]
	resp, result := client.call(col, "CreateOrder", func(ctx context.Context) (*resty.Response, error) {
		req := client.http.R().
			SetContext(ctx).
			SetAuthToken(client.clientToken).
			SetBody(map[string]any{"items": []map[string]any{{"productId": productID, "quantity": cfg.quantity}}}).
			SetResult(&created)
		if cfg.idempotent {
			req.SetHeader(idempotencyHeader, fmt.Sprintf("lt-create-%s-%d", runID, index))
		}
		return req.Post("/api/orders")
	})
	if result != outcomeSuccess {
		scenarioResult = result
		scenarioCode = responseCode(resp)
		return false
	}
	if created.Data.ID == "" {
		scenarioResult = outcomeFailed
		scenarioCode = "empty_order_id"
		return false
	}

	switch cfg.mode {
	case modeCreateCancel:
		resp, result = client.call(col, "CancelOrder", func(ctx context.Context) (*resty.Response, error) {
			return client.http.R().SetContext(ctx).SetAuthToken(client.clientToken).
				Patch("/api/orders/" + created.Data.ID + "/cancel")
		})
		if result != outcomeSuccess {
			scenarioResult = outcomeFailed
			scenarioCode = responseCode(resp)
			return true
		}
		return false
	case modeCreateComplete:
		resp, result = client.call(col, "CompleteOrder", func(ctx context.Context) (*resty.Response, error) {
			return client.http.R().SetContext(ctx).SetAuthToken(client.adminToken).
				Patch("/api/orders/" + created.Data.ID + "/complete")
		})
		if result != outcomeSuccess {
			scenarioResult = outcomeFailed
			scenarioCode = responseCode(resp)
		}
	}
	return true
}

func responseCode(resp *resty.Response) string {
	if resp == nil {
		return "transport_error"
	}
	return strconv.Itoa(resp.StatusCode())
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d rejected=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.RejectedScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)
	fmt.Printf("stock: initial=%d reserved=%d expected=%d actual=%d consistent=%t\n",
		result.Stock.Initial,
		result.Stock.Reserved,
		result.Stock.Expected,
		result.Stock.Actual,
		result.Stock.Consistent,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d rejected=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Rejected,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
