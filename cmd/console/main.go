package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Iwinswap/iwinswap-swap-router-go/cmd/client/config"
	"github.com/Iwinswap/iwinswap-swap-router-go/dex"
	"github.com/Iwinswap/iwinswap-swap-router-go/engine"
	"github.com/Iwinswap/iwinswap-swap-router-go/pipeline"
	solanapkg "github.com/Iwinswap/iwinswap-swap-router-go/pkg/chains/solana"
	"github.com/Iwinswap/iwinswap-swap-router-go/planner"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/constantproduct"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/fixedrate"
	"github.com/Iwinswap/iwinswap-swap-router-go/protocols/token"
	"github.com/Iwinswap/iwinswap-swap-router-go/routing"
	"github.com/Iwinswap/iwinswap-swap-router-go/state"
	"github.com/Iwinswap/iwinswap-swap-router-go/streams/jsonrpc/client"
)

// --- VISUAL CONSTANTS ---
const (
	Reset  = "\033[0m"
	Bold   = "\033[1m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"

	DefaultClientUpdateBufferSize = 1024
)

// header prints a styled section header
func header(title string) {
	fmt.Println("\n" + Bold + Cyan + ":: " + title + " ::" + Reset)
}

// console holds what the menu commands need.
type console struct {
	router *engine.Router
	tokens *token.IndexableTokenSystem
	cfg    *config.ClientConfig
	reader *bufio.Reader
}

func main() {
	// --- 1. CONFIG ---
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- 2. SETUP LOGGING (To File) ---
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file: %v", err))
	}
	defer logFile.Close()

	level, _ := cfg.Level()
	rootLogger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level}))

	closeApp := func() {
		fmt.Printf("\n%sFatal error occurred. Check %s for details.%s\n", Red, cfg.LogFile, Reset)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 3. BUILD ROUTER ---
	prometheusRegistry := prometheus.DefaultRegisterer
	router, err := solanapkg.NewRouter(ctx, cfg.Venues, engine.Config{
		Logger:             rootLogger.With("component", "router"),
		PrometheusRegistry: prometheusRegistry,
		PipelineWorkers:    cfg.Routing.PipelineWorkers,
		MaxHops:            cfg.Routing.MaxHops,
		FreshnessSlots:     cfg.Routing.FreshnessSlots,
		ReservedAccounts:   cfg.Routing.ReservedAccounts,
		DefaultMaxAccounts: cfg.Routing.MaxAccounts,
		Overquote:          cfg.Routing.Overquote,
		SingleHopCooldown:  cfg.Routing.SingleHopCooldown,
		MultiHopCooldown:   cfg.Routing.MultiHopCooldown,
	})
	if err != nil {
		rootLogger.Error("Failed to build router", "error", err)
		closeApp()
	}

	// --- 4. BOOTSTRAP FROM RPC ---
	fmt.Println(Green + "Loading account snapshot from " + cfg.RPCURL + "..." + Reset)
	rpcClient := rpc.New(cfg.RPCURL)
	res, err := solanapkg.Bootstrap(ctx, router, rpcClient, rootLogger.With("component", "bootstrap"))
	if err != nil {
		rootLogger.Error("Failed to bootstrap router", "rpc", cfg.RPCURL, "error", err)
		closeApp()
	}
	rootLogger.Info("Bootstrap complete", "replaced", res.Replaced, "invalidated", res.Invalidated)
	// The first subscription already covers everything bootstrap discovered.
	select {
	case <-router.WatchSetChanged():
	default:
	}

	// --- 5. INITIALIZE FEED CLIENT ---
	resubscribe := make(chan struct{}, 1)
	feed, err := client.NewClient(ctx, client.Config{
		URL:         cfg.FeedURL,
		Logger:      rootLogger.With("component", "jsonrpc-client"),
		BufferSize:  DefaultClientUpdateBufferSize,
		Accounts:    router.WatchedAccounts,
		Resubscribe: resubscribe,
	})
	if err != nil {
		rootLogger.Error("Failed to initialize client", "url", cfg.FeedURL, "error", err)
		closeApp()
	}

	// --- 6. START PIPELINE, METRICS & CONSOLE ---
	// Feed writes and accounts fetched for new dependencies share one stream.
	updates := make(chan pipeline.AccountUpdate, DefaultClientUpdateBufferSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return router.Run(gctx, updates, feed.Slots())
	})
	g.Go(func() error {
		for u := range feed.Updates() {
			select {
			case updates <- u:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	g.Go(func() error {
		err := solanapkg.FollowDependencies(gctx, router, rpcClient, updates, resubscribe, rootLogger.With("component", "dependencies"))
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		select {
		case err, ok := <-feed.Err():
			if ok && err != nil {
				return fmt.Errorf("feed client: %w", err)
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Println(Green + "Starting Swap Router Console..." + Reset)
	fmt.Printf("Logs are being written to '%s'\n", cfg.LogFile)
	c := &console{
		router: router,
		tokens: token.New().Index(cfg.Tokens),
		cfg:    cfg,
		reader: bufio.NewReader(os.Stdin),
	}
	go c.run(gctx)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		rootLogger.Error("Router stopped", "error", err)
		closeApp()
	}
	fmt.Println("\n" + Yellow + "Shutting down..." + Reset)
}

// run handles user input and display.
func (c *console) run(ctx context.Context) {
	time.Sleep(500 * time.Millisecond)

	for {
		if ctx.Err() != nil {
			return
		}

		printMenu()

		fmt.Print(Bold + "Enter selection: " + Reset)
		input, err := c.reader.ReadString('\n')
		if err != nil {
			fmt.Println("Error reading input:", err)
			return
		}
		input = strings.TrimSpace(input)

		c.handleCommand(ctx, input)

		fmt.Println("\n" + Gray + "[Press Enter to continue]" + Reset)
		c.reader.ReadString('\n')
	}
}

func printMenu() {
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(Bold + "SWAP ROUTER CONSOLE" + Reset + Gray + " | v0.1.0" + Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %s1.%s Router Status\n", Cyan, Reset)
	fmt.Printf(" %s2.%s Protocol Summary\n", Cyan, Reset)
	fmt.Printf(" %s3.%s Find Route  %s(token -> token)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s4.%s Find Edges  %s(by Token)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s5.%s Watch Edge  %s(Live Monitor)%s\n", Cyan, Reset, Gray, Reset)
	fmt.Printf(" %s6.%s Missing Accounts\n", Cyan, Reset)
	fmt.Println(Gray + "-----------------------------------" + Reset)
	fmt.Printf(" %sh.%s Help / Architecture\n", Yellow, Reset)
	fmt.Printf(" %sq.%s Quit\n", Red, Reset)
	fmt.Println("")
}

func (c *console) handleCommand(ctx context.Context, input string) {
	switch input {
	case "1":
		c.printStatus()
	case "2":
		c.printProtocolSummary()
	case "3":
		c.findRoute(ctx)
	case "4":
		c.findEdgesByToken()
	case "5":
		c.watchEdge()
	case "6":
		c.printMissingAccounts()
	case "h":
		printHelp()
	case "q":
		exitConsole()
	default:
		fmt.Println(Red + "Unknown command." + Reset)
	}
}

// --- COMMAND HANDLERS ---

func printHelp() {
	fmt.Print("\033[H\033[2J")

	header("SWAP ROUTER ARCHITECTURE")
	fmt.Println(Bold + "Concept: Edges over a token graph" + Reset)
	fmt.Println("Every tradable direction of every configured pool is an " + Cyan + "edge" + Reset + ".")
	fmt.Println("Edges connect token mints; a route is a path of edges from one mint to another.")
	fmt.Println("")

	fmt.Println(Bold + "1. LIVE STATE" + Reset)
	fmt.Println("   The router watches the on-chain accounts each edge is priced from.")
	fmt.Println("   - " + Yellow + "Bootstrap" + Reset + ": a getMultipleAccounts snapshot over RPC.")
	fmt.Println("   - " + Yellow + "Feed" + Reset + ":      account and slot events from the update stream.")
	fmt.Println("   Each write re-decodes only the edges that depend on that account.")
	fmt.Println("")

	fmt.Println(Bold + "2. ROUTING" + Reset)
	fmt.Println("   A best-first search over the graph maximizes output within")
	fmt.Println("   the hop limit and the transaction account budget.")
	fmt.Println("   Edges whose state is stale, invalid or cooling down are skipped.")
	fmt.Println("")

	fmt.Println(Bold + "3. PLANS" + Reset)
	fmt.Println("   A route becomes setup, swap and cleanup instructions with")
	fmt.Println("   per-hop minimum outputs derived from the slippage tolerance.")
	fmt.Println("   Set " + Cyan + "wallet" + Reset + " in the config to build plans from this console.")
	fmt.Println("")

	fmt.Println(Gray + "---------------------------------------------------------------" + Reset)
	fmt.Printf("Configured protocols: %s%s%s\n", Cyan, strings.Join(solanapkg.Protocols(), ", "), Reset)
	fmt.Println(Gray + "---------------------------------------------------------------" + Reset)
}

func (c *console) printStatus() {
	st := c.router.Status()
	fmt.Printf("\n%sSTATUS  ::%s Slot %s#%d%s | Edges %s%d%s | Mints %s%d%s | Accounts %s%d/%d%s\n",
		Green, Reset,
		Bold, st.NewestSlot, Reset,
		Bold, st.Edges, Reset,
		Bold, st.Mints, Reset,
		Bold, st.Cached, st.Accounts, Reset,
	)
	printStoreStats(st.Store)
}

func printStoreStats(s state.Stats) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "LIVE\tINVALID\tCOOLING\tNEVER LOADED\t")
	fmt.Fprintln(w, "----\t-------\t-------\t------------\t")
	fmt.Fprintf(w, "%s%d%s\t%d\t%d\t%d\t\n", Green, s.Live, Reset, s.Invalid, s.CoolingDown, s.NeverLoaded)
	w.Flush()
}

func (c *console) printProtocolSummary() {
	header("PROTOCOL SUMMARY")

	st := c.router.Status()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "PROTOCOL\tEDGES\t")
	fmt.Fprintln(w, "--------\t-----\t")
	for _, name := range solanapkg.Protocols() {
		fmt.Fprintf(w, "%s\t%d\t\n", name, st.Protocols[name])
	}
	w.Flush()

	header("TOKEN GRAPH")
	view := c.router.Graph().View()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tMINT\tOUT EDGES\t")
	fmt.Fprintln(w, "-----\t----\t---------\t")
	for _, mint := range view.Mints {
		fmt.Fprintf(w, "%s\t%s\t%d\t\n", c.tokens.Label(mint), mint, view.Degree(mint))
	}
	w.Flush()
}

func (c *console) findRoute(ctx context.Context) {
	in, ok := c.readToken("[Find Route] Input token (symbol or mint): ")
	if !ok {
		return
	}
	out, ok := c.readToken("[Find Route] Output token (symbol or mint): ")
	if !ok {
		return
	}
	fmt.Printf(Bold+"[Find Route] Amount of %s: "+Reset, in.Symbol)
	input, _ := c.reader.ReadString('\n')
	ui, err := decimal.NewFromString(strings.TrimSpace(input))
	if err != nil {
		fmt.Printf(Red+"[ERROR] Invalid amount: %v%s\n", err, Reset)
		return
	}
	amount, err := in.RawAmount(ui)
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}

	constraints := routing.Constraints{SlippageBps: c.cfg.Routing.SlippageBps}
	route, err := c.router.FindRoute(ctx, in.Mint, out.Mint, amount, constraints)
	if err != nil {
		fmt.Printf(Red+"[NO ROUTE] %v%s\n", err, Reset)
		return
	}
	c.printRoute(route, in, out)

	if c.cfg.Wallet.IsZero() {
		return
	}
	plan, err := c.router.BuildPlan(route, planner.TraderParams{
		Wallet:               c.cfg.Wallet,
		SlippageBps:          c.cfg.Routing.SlippageBps,
		WrapAndUnwrapSOL:     true,
		AutoCreateOutAccount: true,
	})
	if err != nil {
		fmt.Printf(Red+"[PLAN FAILED] %v (retryable: %t)%s\n", err, planner.IsRetryable(err), Reset)
		return
	}
	printPlan(plan)
}

func (c *console) printRoute(route *routing.Route, in, out token.TokenView) {
	header("ROUTE " + route.ID.String())
	fmt.Printf("In:        %s %s\n", in.UIAmount(route.InAmount), in.Symbol)
	fmt.Printf("Out:       %s%s %s%s\n", Green, out.UIAmount(route.OutAmount), out.Symbol, Reset)
	fmt.Printf("Min Out:   %s %s (%d bps)\n", out.UIAmount(route.OtherAmountThreshold), out.Symbol, route.SlippageBps)
	fmt.Printf("Impact:    %s%%\n", route.PriceImpact.Shift(2).StringFixed(4))
	fmt.Printf("Accounts:  %d | Slot %d (context %d)\n", route.AccountsNeeded, route.Slot, route.ContextSlot)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "\n#\tPROTOCOL\tIN\tOUT\tFEE\tEDGE\t")
	fmt.Fprintln(w, "-\t--------\t--\t---\t---\t----\t")
	for i, hop := range route.Hops {
		hopIn, _ := c.tokens.GetByMint(hop.InputMint())
		hopOut, _ := c.tokens.GetByMint(hop.OutputMint())
		feeToken, _ := c.tokens.GetByMint(hop.Quote.FeeMint)
		fmt.Fprintf(w, "%d\t%s\t%s %s\t%s %s\t%s\t%s\t\n",
			i+1,
			hop.Edge.Protocol(),
			hopIn.UIAmount(hop.Quote.InAmount), c.tokens.Label(hop.InputMint()),
			hopOut.UIAmount(hop.Quote.OutAmount), c.tokens.Label(hop.OutputMint()),
			feeToken.UIAmount(hop.Quote.FeeAmount),
			hop.Edge.ID,
		)
	}
	w.Flush()
}

func printPlan(plan *planner.Plan) {
	header("EXECUTION PLAN")
	fmt.Printf("Instructions:  %d setup, %d swap, %d cleanup\n", len(plan.Setup), len(plan.Swaps), len(plan.Cleanup))
	fmt.Printf("Accounts:      %d\n", len(plan.Accounts))
	fmt.Printf("Compute Units: %d\n", plan.CUEstimate)
	fmt.Printf("Min Out (raw): %d\n", plan.MinOutAmount)
}

func (c *console) findEdgesByToken() {
	t, ok := c.readToken("[Find Edges] Enter Token (symbol or mint): ")
	if !ok {
		return
	}

	header(fmt.Sprintf("EDGES FROM %s", t.Symbol))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 4, ' ', 0)
	fmt.Fprintln(w, "PROTOCOL\tTO\tSTATUS\tSLOT\tEDGE ID\t")
	fmt.Fprintln(w, "--------\t--\t------\t----\t-------\t")

	count := 0
	for edge := range c.router.EdgesFrom(t.Mint) {
		_, entry, _ := c.router.Edge(edge.ID)
		status, slot := entryStatus(entry)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", edge.Protocol(), c.tokens.Label(edge.OutputMint()), status, slot, edge.ID)
		count++
	}
	w.Flush()

	if count == 0 {
		fmt.Println(Yellow + "[INFO] Token has no edges in the graph." + Reset)
	}
}

func (c *console) watchEdge() {
	fmt.Print("\n" + Bold + "[Watch Edge] Enter Edge ID (<pool>/<input mint>): " + Reset)
	input, _ := c.reader.ReadString('\n')
	id, err := dex.ParseEdgeID(input)
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return
	}
	if _, _, ok := c.router.Edge(id); !ok {
		fmt.Println(Red + "[NOT FOUND] Edge is not registered." + Reset)
		return
	}

	fmt.Println(Green + "Starting Live Watch... (Press 'Enter' to stop)" + Reset)
	time.Sleep(1 * time.Second)

	stopCh := make(chan struct{})
	go func() {
		c.reader.ReadString('\n')
		close(stopCh)
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var last *state.Entry
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			_, entry, _ := c.router.Edge(id)
			if entry == nil || entry == last {
				continue
			}
			last = entry

			fmt.Print("\033[H\033[2J")
			fmt.Printf(Bold+"--- LIVE MONITOR (Slot: %d) ---\n"+Reset, c.router.Status().NewestSlot)
			fmt.Println(Gray + "Press ENTER to return to menu." + Reset)
			c.printEdge(id)
		}
	}
}

func (c *console) printMissingAccounts() {
	missing := c.router.MissingAccounts()
	header(fmt.Sprintf("MISSING ACCOUNTS (%d)", len(missing)))
	for _, key := range missing {
		fmt.Println("  " + key.String())
	}
	if len(missing) == 0 {
		fmt.Println(Green + "Every watched account has been received." + Reset)
	}
}

// --- HELPERS ---

func (c *console) readToken(prompt string) (token.TokenView, bool) {
	fmt.Print("\n" + Bold + prompt + Reset)
	input, _ := c.reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return token.TokenView{}, false
	}
	t, err := c.tokens.Resolve(input)
	if err != nil {
		fmt.Printf(Red+"[ERROR] %v%s\n", err, Reset)
		return token.TokenView{}, false
	}
	return t, true
}

func entryStatus(entry *state.Entry) (string, string) {
	switch {
	case entry == nil:
		return Gray + "NOT LOADED" + Reset, "-"
	case entry.State == nil:
		return Red + "INVALID" + Reset, fmt.Sprint(entry.Slot)
	case !entry.Live(time.Now()):
		return Yellow + "COOLING" + Reset, fmt.Sprint(entry.Slot)
	default:
		return Green + "LIVE" + Reset, fmt.Sprint(entry.Slot)
	}
}

func (c *console) printEdge(id dex.EdgeID) {
	edge, entry, ok := c.router.Edge(id)
	if !ok {
		fmt.Println(Red + "[NOT FOUND] Edge is not registered." + Reset)
		return
	}

	header("EDGE")
	status, slot := entryStatus(entry)
	fmt.Printf("Edge:            %s\n", edge)
	fmt.Printf("Protocol:        %s%s%s\n", Cyan, edge.Protocol(), Reset)
	fmt.Printf("Direction:       %s -> %s\n", c.tokens.Label(edge.InputMint()), c.tokens.Label(edge.OutputMint()))
	fmt.Printf("Status:          %s (slot %s)\n", status, slot)
	if entry == nil || entry.State == nil {
		return
	}
	inspectEdgeState(entry.State)
}

func inspectEdgeState(s dex.EdgeState) {
	printField := func(key string, value any) {
		fmt.Printf("  %s%-15s%s %v\n", Gray, key+":", Reset, value)
	}

	switch st := s.(type) {
	case *constantproduct.State:
		header("CONSTANT PRODUCT LIVE DATA")
		printField("Reserve In", st.ReserveIn)
		printField("Reserve Out", st.ReserveOut)
		printField("Fee (ppm)", st.FeeRate)
		printField("Disabled", st.Disabled)
	case *fixedrate.State:
		header("FIXED RATE LIVE DATA")
		printField("Oracle", st.Oracle)
		printField("Price", decimal.NewFromBigInt(new(big.Int).SetUint64(st.Price), 0).Div(decimal.NewFromInt(fixedrate.PriceScale)))
		printField("Oracle Slot", st.OracleSlot)
		printField("Fee (bps)", st.FeeBps)
		printField("Reserve Out", st.ReserveOut)
		printField("Paused", fmt.Sprintf("%s%t%s", Yellow, st.Paused, Reset))
	default:
		fmt.Printf(Gray+"[INFO] No inspector implemented for state type: %T%s\n", s, Reset)
	}
}

func exitConsole() {
	fmt.Println(Yellow + "Exiting..." + Reset)
	os.Exit(0)
}

func loadConfig() (*config.ClientConfig, error) {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()
	log.Printf("Loading configuration from: %s", *configPath)
	return config.LoadConfig(*configPath)
}
