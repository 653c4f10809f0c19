package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/modelop/gateway/modelop"
	"github.com/modelop/gateway/modelop/telemetry"
)

var (
	logLevel          string
	configPath        string
	maxRequestTokens  int
	shedThreshold     float64
	kvBudgetBytes     int64
	kvBytesPerToken   int64
	maxActive         int
	queueCapacity     int
	decodeStepMS      int64
	idleSleepMS       int64
	headRatio         float64
	truncationMarker  string
	truncationAllowed bool
	demoRequests      int
	demoTenant        string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway's scheduler and drive a demo admission load",
	Run:   runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&configPath, "config", "", "Optional YAML config overlay path")
	flags.IntVar(&maxRequestTokens, "max-request-tokens", 8192, "Maximum prompt+generation tokens admitted per request")
	flags.Float64Var(&shedThreshold, "shed-threshold", 0.90, "KV utilization fraction at or above which new reservations are shed")
	flags.Int64Var(&kvBudgetBytes, "kv-budget-bytes", 8*1024*1024*1024, "Total KV-cache byte budget")
	flags.Int64Var(&kvBytesPerToken, "kv-bytes-per-token", 16384, "Estimated KV-cache bytes consumed per token")
	flags.IntVar(&maxActive, "max-active", 16, "Maximum concurrently decoding sequences")
	flags.IntVar(&queueCapacity, "queue-capacity", 1024, "Maximum pending (not yet active) sequences")
	flags.Int64Var(&decodeStepMS, "decode-step-ms", 20, "Decode step duration in milliseconds")
	flags.Int64Var(&idleSleepMS, "idle-sleep-ms", 5, "Idle sleep duration in milliseconds when no sequence is active")
	flags.Float64Var(&headRatio, "truncation-head-ratio", 0.35, "Fraction of the truncation budget kept from the prompt head")
	flags.StringVar(&truncationMarker, "truncation-marker", "\n[...context truncated...]\n", "Marker inserted between kept head and tail when truncating")
	flags.BoolVar(&truncationAllowed, "truncation-allowed", true, "Whether oversize prompts may be truncated instead of rejected")
	flags.IntVar(&demoRequests, "demo-requests", 8, "Number of synthetic requests to submit through the admission pipeline")
	flags.StringVar(&demoTenant, "demo-tenant", "tenant-a", "Tenant id used for the demo load")
}

func runServe(cmd *cobra.Command, args []string) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)

	cfg := modelop.NewConfig()
	flags := cmd.Flags()
	if flags.Changed("max-request-tokens") {
		cfg.MaxRequestTokens = maxRequestTokens
	}
	if flags.Changed("shed-threshold") {
		cfg.ShedThreshold = shedThreshold
	}
	if flags.Changed("kv-budget-bytes") {
		cfg.KVBudgetBytes = kvBudgetBytes
	}
	if flags.Changed("kv-bytes-per-token") {
		cfg.KVBytesPerToken = kvBytesPerToken
	}
	if flags.Changed("max-active") {
		cfg.Scheduler.MaxActiveSequences = maxActive
	}
	if flags.Changed("queue-capacity") {
		cfg.Scheduler.QueueCapacity = queueCapacity
	}
	if flags.Changed("decode-step-ms") {
		cfg.Scheduler.DecodeStepDuration = time.Duration(decodeStepMS) * time.Millisecond
	}
	if flags.Changed("idle-sleep-ms") {
		cfg.Scheduler.IdleSleepDuration = time.Duration(idleSleepMS) * time.Millisecond
	}
	if flags.Changed("truncation-head-ratio") {
		cfg.TruncationHeadRatio = headRatio
	}
	if flags.Changed("truncation-marker") {
		cfg.TruncationMarker = truncationMarker
	}
	if flags.Changed("truncation-allowed") {
		cfg.PromptTruncationAllowed = truncationAllowed
	}

	if configPath != "" {
		if err := loadConfigOverlay(configPath, cfg); err != nil {
			logrus.Fatalf("loading config overlay: %v", err)
		}
	}

	sink := telemetry.New()
	gw := modelop.NewGateway(cfg, sink)
	gw.Start()
	defer gw.Stop()

	logrus.Infof("scheduler started: max_active=%d queue_capacity=%d kv_budget_bytes=%d",
		cfg.Scheduler.MaxActiveSequences, cfg.Scheduler.QueueCapacity, cfg.KVBudgetBytes)

	runDemoLoad(gw, demoRequests, demoTenant)

	body, contentType, err := sink.Scrape()
	if err != nil {
		logrus.Warnf("scraping telemetry: %v", err)
		return
	}
	logrus.Debugf("final metrics scrape (%s, %d bytes)", contentType, len(body))
}

// runDemoLoad drives n requests through the admission pipeline concurrently,
// since there is no HTTP surface in this build to submit them for us.
func runDemoLoad(gw *modelop.Gateway, n int, tenantID string) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result, err := gw.Generate(ctx, modelop.GenerateRequest{
				TenantID:     tenantID,
				Prompt:       fmt.Sprintf("demo request %d: summarize the quarterly report.", i),
				MaxNewTokens: 32,
			})
			if err != nil {
				logrus.Warnf("request %d rejected: %v", i, err)
				return
			}
			logrus.Infof("request %d completed: tokens=%d ttft=%.4fs total=%.4fs",
				i, result.CompletionTokens, result.TTFTSeconds, result.TotalTimeSeconds)
		}(i)
	}
	wg.Wait()
}
