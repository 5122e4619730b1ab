package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/forwarder/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/forwarder/internal/service/grpc"
	"github.com/vladislavdragonenkov/forwarder/internal/service/lifecycle"
)

const (
	idempotencyHeader = "idempotency-key"
	defaultItemCost   = int64(25000)
	defaultLink       = "https://www.amazon.com/dp/B0LOADTEST"
)

type loadMode string

const (
	modeCreate            loadMode = "create"
	modeCreateQuote       loadMode = "create-quote"
	modeCreateQuoteRefund loadMode = "create-quote-refund"
)

// orderAPI — вызовы OrderService, которые использует нагрузочный сценарий.
type orderAPI interface {
	CreateOrder(ctx context.Context, in *grpcsvc.CreateOrderRequest, opts ...grpc.CallOption) (*grpcsvc.OrderResponse, error)
	TransitionStatus(ctx context.Context, in *grpcsvc.TransitionStatusRequest, opts ...grpc.CallOption) (*grpcsvc.OrderResponse, error)
	RequestRefund(ctx context.Context, in *grpcsvc.RequestRefundRequest, opts ...grpc.CallOption) (*grpcsvc.OrderResponse, error)
}

var _ orderAPI = (*grpcsvc.Client)(nil)

type config struct {
	addr          string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	connections   int
	timeout       time.Duration
	mode          loadMode
	refundRate    int
	currency      string
	productLink   string
	itemCostMinor int64
	customerTag   string
	outputPath    string
	staffToken    string
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
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
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

func (c *collector) record(method string, latency time.Duration, code codes.Code) {
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
	if code == codes.OK {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code.String()]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}

	codesCopy := make(map[string]int64, len(stats.codes))
	for code, count := range stats.codes {
		codesCopy[code] = count
	}

	return methodReport{
		Calls:     stats.calls,
		Success:   stats.success,
		Failed:    stats.failed,
		ErrorRate: ratio(stats.failed, stats.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(stats.latencies),
	}, true
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-quote | create-quote-refund")
	fs.IntVar(&cfg.refundRate, "refund-rate", 100, "refund probability in percent for create-quote-refund mode (0..100)")
	fs.StringVar(&cfg.currency, "currency", "GHS", "quotation currency")
	fs.StringVar(&cfg.productLink, "product-link", defaultLink, "product link submitted with every order")
	fs.Int64Var(&cfg.itemCostMinor, "item-cost-minor", defaultItemCost, "quoted item cost in minor units")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer email prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	fs.StringVar(&cfg.staffToken, "token", os.Getenv("KS_STAFF_TOKEN"), "staff JWT for TransitionStatus in quote modes (default $KS_STAFF_TOKEN)")
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

	switch {
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.connections <= 0:
		return cfg, errors.New("connections must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.itemCostMinor <= 0:
		return cfg, errors.New("item-cost-minor must be > 0")
	case cfg.refundRate < 0 || cfg.refundRate > 100:
		return cfg, errors.New("refund-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.currency) == "":
		return cfg, errors.New("currency is required")
	case strings.TrimSpace(cfg.productLink) == "":
		return cfg, errors.New("product-link is required")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCreate, modeCreateQuote, modeCreateQuoteRefund:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]orderAPI, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	result := runLoad(cfg, clients, fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid()))

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad раздаёт сценарии воркерам по кругу клиентов и собирает отчёт.
func runLoad(cfg config, clients []orderAPI, runID string) report {
	startedAt := time.Now()
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func(cli orderAPI) {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(cli, cfg, id, runID, col); runErr != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}(clients[workerID%len(clients)])
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
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

// runScenario проводит заказ по витринному пути: создание, расчёт стоимости и, в режиме refund, заявка на возврат.
func runScenario(client orderAPI, cfg config, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := codes.OK
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode)
	}()

	createReq := &grpcsvc.CreateOrderRequest{
		CustomerInfo: domain.CustomerInfo{
			Name:    "Load Test",
			Email:   fmt.Sprintf("%s-%s-%d@loadtest.local", cfg.customerTag, runID, index),
			Phone:   fmt.Sprintf("+233 20 %07d", index%10000000),
			Address: "Accra",
		},
		Items: []lifecycle.ItemInput{{ProductLink: cfg.productLink, Quantity: 1}},
	}

	var orderID string
	err := call(col, cfg, "CreateOrder", fmt.Sprintf("lt-create-%s-%d", runID, index), func(ctx context.Context) error {
		resp, err := client.CreateOrder(ctx, createReq)
		if err == nil {
			orderID = resp.Order.ID
		}
		return err
	})
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}
	if orderID == "" {
		scenarioCode = codes.Internal
		return errors.New("create response returned empty order id")
	}

	if cfg.mode == modeCreate {
		return nil
	}

	quoteReq := &grpcsvc.TransitionStatusRequest{
		OrderID: orderID,
		Status:  domain.OrderStatusQuotationSent,
		Notes:   "load-quote",
		Quotation: &domain.Quotation{
			ItemCostMinor:    cfg.itemCostMinor,
			ShippingFeeMinor: cfg.itemCostMinor / 10,
			ServiceFeeMinor:  cfg.itemCostMinor / 20,
			Currency:         cfg.currency,
		},
	}
	err = call(col, cfg, "TransitionStatus", fmt.Sprintf("lt-quote-%s-%d", runID, index), func(ctx context.Context) error {
		_, err := client.TransitionStatus(ctx, quoteReq)
		return err
	})
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}

	if cfg.mode != modeCreateQuoteRefund || !shouldRefundScenario(index, cfg.refundRate) {
		return nil
	}

	refundReq := &grpcsvc.RequestRefundRequest{
		OrderID:              orderID,
		Reason:               "load-refund",
		RequestedAmountMinor: cfg.itemCostMinor,
	}
	err = call(col, cfg, "RequestRefund", fmt.Sprintf("lt-refund-%s-%d", runID, index), func(ctx context.Context) error {
		_, err := client.RequestRefund(ctx, refundReq)
		return err
	})
	if err != nil {
		scenarioCode = grpcCode(err)
		return err
	}

	return nil
}

// call выполняет один RPC с таймаутом, idempotency-key и токеном сотрудника, если он задан,
// и записывает латентность.
func call(col *collector, cfg config, method, key string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)
	if cfg.staffToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+cfg.staffToken)
	}

	err := fn(ctx)
	col.record(method, time.Since(start), grpcCode(err))
	return err
}

func grpcCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return status.Code(err)
}

func shouldRefundScenario(index, refundRate int) bool {
	if refundRate <= 0 {
		return false
	}
	if refundRate >= 100 {
		return true
	}
	return index%100 < refundRate
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

func printReport(out io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(out, "Load test summary")
	_, _ = fmt.Fprintf(out, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	_, _ = fmt.Fprintf(out, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(out, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
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
		_, _ = fmt.Fprintf(out,
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
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
